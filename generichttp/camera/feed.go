package camera

import (
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/camflow/acq"
)

// Summary is the description of one frame sent to live feed clients
type Summary struct {
	Seq      uint64       `json:"seq"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Min      uint16       `json:"min"`
	Max      uint16       `json:"max"`
	Mean     float64      `json:"mean"`
	Metadata acq.Metadata `json:"metadata"`
}

// Summarize computes the summary of f
func Summarize(f *acq.Frame) Summary {
	s := Summary{Seq: f.Seq, Width: f.Width, Height: f.Height, Metadata: f.Metadata}
	if len(f.Pix) == 0 {
		return s
	}
	s.Min = f.Pix[0]
	var sum uint64
	for _, v := range f.Pix {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += uint64(v)
	}
	s.Mean = float64(sum) / float64(len(f.Pix))
	return s
}

// client is one websocket connection.  send is closed by the hub
type client struct {
	conn *websocket.Conn
	send chan Summary
	lim  *rate.Limiter
}

// Hub fans frame summaries out to websocket clients.  Each client receives
// at most Rate summaries per second; frames are dropped for clients which
// are rate limited or slow to read
type Hub struct {
	// Rate is the per-client summary rate in Hz
	Rate float64

	// WriteTimeout bounds each websocket write
	WriteTimeout time.Duration

	Logger *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub returns a hub sending at most perSecond summaries per second to
// each client
func NewHub(perSecond float64) *Hub {
	return &Hub{
		Rate:         perSecond,
		WriteTimeout: time.Second,
		Logger:       log.New(os.Stderr, "feed: ", log.LstdFlags),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish summarizes f and queues the summary for every client whose rate
// allows it.  It never blocks on a client and may be used as, or from, a
// stream callback
func (h *Hub) Publish(f *acq.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	s := Summarize(f)
	for c := range h.clients {
		if !c.lim.Allow() {
			continue
		}
		select {
		case c.send <- s:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams summaries to it
// until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Printf("websocket upgrade error: %v", err)
		return
	}
	c := &client{
		conn: conn,
		send: make(chan Summary, 4),
		lim:  rate.NewLimiter(rate.Limit(h.Rate), 1),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.write(c)
	// the read loop only notices the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Printf("feed client disconnected with error: %v", err)
			}
			break
		}
	}
	h.drop(c)
}

func (h *Hub) write(c *client) {
	defer c.conn.Close()
	for s := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		if err := c.conn.WriteJSON(s); err != nil {
			h.Logger.Printf("error writing to feed client: %v", err)
			h.drop(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(h.WriteTimeout))
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
