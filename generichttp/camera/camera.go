// Package camera provides a generic HTTP interface to a scientific camera
package camera

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nasa-jpl/camflow/acq"
	"github.com/nasa-jpl/camflow/camera"
	"github.com/nasa-jpl/camflow/device"
	"github.com/nasa-jpl/camflow/generichttp"
	"github.com/nasa-jpl/camflow/health"
	"github.com/nasa-jpl/camflow/sdk"
	"github.com/nasa-jpl/camflow/server"
	"github.com/nasa-jpl/camflow/util"
)

// Controller is the camera surface exposed over HTTP.  *acq.Camera
// implements it
type Controller interface {
	Capabilities() sdk.Capabilities
	RequestSettings(camera.Settings) (camera.Settings, error)
	Settings() camera.Settings
	Committed() acq.Committed
	AcquireOne(context.Context) (*acq.Frame, error)
	Start(func(*acq.Frame)) error
	Stop()
	WaitStopped(time.Duration) error
	State() acq.State
	StreamErr() error
	Frames() uint64
	Locked() bool
	Reinitializations() uint64
	Temperature() health.Reading
	TemperatureSetpoint() int
	SetTemperatureSetpoint(float64) (int, error)
	FanSpeed() float64
	SetFanSpeed(float64) (float64, error)
	Cameras() ([]device.Info, error)
}

// Settings is the wire form of camera.Settings.  Times are in seconds
type Settings struct {
	Binning     camera.Binning `json:"binning"`
	Region      camera.Region  `json:"region"`
	Exposure    float64        `json:"exposure"`
	ReadoutRate float64        `json:"readoutRate"`
	Gain        float64        `json:"gain"`
}

func wireSettings(s camera.Settings) Settings {
	return Settings{
		Binning:     s.Binning,
		Region:      s.Region,
		Exposure:    s.ExposureTime.Seconds(),
		ReadoutRate: s.ReadoutRate,
		Gain:        s.Gain,
	}
}

func (s Settings) settings() camera.Settings {
	return camera.Settings{
		Binning:      s.Binning,
		Region:       s.Region,
		ExposureTime: util.SecsToDuration(s.Exposure),
		ReadoutRate:  s.ReadoutRate,
		Gain:         s.Gain,
	}
}

// Committed is the wire form of acq.Committed.  Times are in seconds
type Committed struct {
	Settings
	BitDepth     int     `json:"bitDepth"`
	PixelReadout float64 `json:"pixelReadout"`
	// ActualExposure is the exposure time reported by the camera
	ActualExposure float64 `json:"actualExposure"`
	// Setpoint is the cooler set-point in Celsius
	Setpoint int     `json:"setpoint"`
	FanSpeed float64 `json:"fanSpeed"`
}

// statusError attaches an HTTP status to an error
type statusError struct {
	code int
	err  error
}

func (e statusError) Error() string   { return e.err.Error() }
func (e statusError) Unwrap() error   { return e.err }
func (e statusError) StatusCode() int { return e.code }

// classify attaches the HTTP status matching the kind of err
func classify(err error) error {
	if err == nil {
		return nil
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, acq.ErrAlreadyRunning),
		errors.Is(err, acq.ErrInvalidState),
		errors.Is(err, sdk.ErrDeviceBusy):
		code = http.StatusConflict
	case errors.Is(err, sdk.ErrDeviceNotFound):
		code = http.StatusNotFound
	case errors.Is(err, sdk.ErrNotSupported):
		code = http.StatusNotImplemented
	case errors.Is(err, sdk.ErrDeviceLost):
		code = http.StatusServiceUnavailable
	case errors.Is(err, acq.ErrStopTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sdk.ErrNoNewData):
		code = http.StatusGatewayTimeout
	}
	return statusError{code: code, err: err}
}

// HTTPCamera wraps a Controller in an HTTP interface
type HTTPCamera struct {
	Camera Controller

	// Feed receives every frame of streams started over HTTP
	Feed *Hub

	// OnFrame, if not nil, is also called with every frame of streams
	// started over HTTP
	OnFrame func(*acq.Frame)

	// FrameTimeout bounds GET /frame when the request has no timeout
	// query parameter
	FrameTimeout time.Duration

	RouteTable server.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around c with its routes
// populated.  feed may be nil
func NewHTTPCamera(c Controller, feed *Hub) *HTTPCamera {
	w := &HTTPCamera{Camera: c, Feed: feed, FrameTimeout: time.Minute}
	rt := server.RouteTable{
		server.Get("/settings"):              w.GetSettings,
		server.Post("/settings"):             w.SetSettings,
		server.Get("/committed"):             w.GetCommitted,
		server.Get("/capabilities"):          w.GetCapabilities,
		server.Get("/exposure-time"):         generichttp.GetFloat(w.exposureTime),
		server.Post("/exposure-time"):        generichttp.SetFloat(w.setExposureTime),
		server.Get("/frame"):                 w.GetFrame,
		server.Post("/stream/start"):         w.StartStream,
		server.Post("/stream/stop"):          w.StopStream,
		server.Get("/stream/state"):          generichttp.GetString(w.state),
		server.Get("/stream/error"):          generichttp.GetString(w.streamErr),
		server.Get("/stream/frames"):         generichttp.GetInt(w.frames),
		server.Get("/locked"):                generichttp.GetBool(w.locked),
		server.Get("/reinitializations"):     generichttp.GetInt(w.reinitializations),
		server.Get("/temperature"):           w.GetTemperature,
		server.Get("/temperature-setpoint"):  generichttp.GetFloat(w.setpoint),
		server.Post("/temperature-setpoint"): generichttp.SetFloat(w.setSetpoint),
		server.Get("/fan-speed"):             generichttp.GetFloat(w.fanSpeed),
		server.Post("/fan-speed"):            generichttp.SetFloat(w.setFanSpeed),
		server.Get("/cameras"):               w.GetCameras,
	}
	if feed != nil {
		rt[server.Get("/stream/ws")] = feed.ServeHTTP
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h *HTTPCamera) RT() server.RouteTable {
	return h.RouteTable
}

// GetSettings replies with the staged settings
func (h *HTTPCamera) GetSettings(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, wireSettings(h.Camera.Settings()))
}

// SetSettings stages settings from the JSON body.  Fields missing from the
// body keep their staged value.  The reply holds the settings as fitted to
// the camera
func (h *HTTPCamera) SetSettings(w http.ResponseWriter, r *http.Request) {
	s := wireSettings(h.Camera.Settings())
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fitted, err := h.Camera.RequestSettings(s.settings())
	if err != nil {
		generichttp.Fail(w, classify(err))
		return
	}
	server.ReplyJSON(w, wireSettings(fitted))
}

// GetCommitted replies with the configuration in effect on the hardware
func (h *HTTPCamera) GetCommitted(w http.ResponseWriter, r *http.Request) {
	c := h.Camera.Committed()
	server.ReplyJSON(w, Committed{
		Settings:       wireSettings(c.Settings),
		BitDepth:       c.BitDepth,
		PixelReadout:   c.PixelReadout.Seconds(),
		ActualExposure: c.Exposure.Seconds(),
		Setpoint:       c.Thermal.Setpoint,
		FanSpeed:       c.Thermal.FanSpeed,
	})
}

// GetCapabilities replies with the static description of the camera
func (h *HTTPCamera) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, h.Camera.Capabilities())
}

func (h *HTTPCamera) exposureTime() (float64, error) {
	return h.Camera.Settings().ExposureTime.Seconds(), nil
}

func (h *HTTPCamera) setExposureTime(secs float64) error {
	s := h.Camera.Settings()
	s.ExposureTime = util.SecsToDuration(secs)
	_, err := h.Camera.RequestSettings(s)
	return classify(err)
}

// GetFrame takes one picture and replies with its pixels as little endian
// uint16, row major.  The geometry and exposure are in the X-Width,
// X-Height, X-Seq, X-Exposure and X-Temperature headers.
//
// A timeout query parameter, e.g. 30s, bounds the whole request: the wait
// for a running stream to release the camera and the exposure itself
func (h *HTTPCamera) GetFrame(w http.ResponseWriter, r *http.Request) {
	timeout := h.FrameTimeout
	if str := r.URL.Query().Get("timeout"); str != "" {
		d, err := time.ParseDuration(str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	f, err := h.Camera.AcquireOne(ctx)
	if err != nil {
		generichttp.Fail(w, classify(err))
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("X-Width", strconv.Itoa(f.Width))
	hdr.Set("X-Height", strconv.Itoa(f.Height))
	hdr.Set("X-Seq", strconv.FormatUint(f.Seq, 10))
	hdr.Set("X-Exposure", strconv.FormatFloat(f.Metadata.Exposure.Seconds(), 'g', -1, 64))
	hdr.Set("X-Temperature", strconv.FormatFloat(f.Metadata.Temperature, 'g', -1, 64))
	hdr.Set("Content-Length", strconv.Itoa(2*len(f.Pix)))
	w.WriteHeader(http.StatusOK)
	binary.Write(w, binary.LittleEndian, f.Pix)
}

func (h *HTTPCamera) publish(f *acq.Frame) {
	if h.Feed != nil {
		h.Feed.Publish(f)
	}
	if h.OnFrame != nil {
		h.OnFrame(f)
	}
}

// StartStream starts continuous acquisition.  Frames go to the feed
func (h *HTTPCamera) StartStream(w http.ResponseWriter, r *http.Request) {
	if err := h.Camera.Start(h.publish); err != nil {
		generichttp.Fail(w, classify(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StopStream requests the stream to stop.  With a wait query parameter,
// e.g. 10s, it also waits for the stream to stop
func (h *HTTPCamera) StopStream(w http.ResponseWriter, r *http.Request) {
	h.Camera.Stop()
	if str := r.URL.Query().Get("wait"); str != "" {
		d, err := time.ParseDuration(str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.Camera.WaitStopped(d); err != nil {
			generichttp.Fail(w, classify(err))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPCamera) state() (string, error) {
	return h.Camera.State().String(), nil
}

func (h *HTTPCamera) streamErr() (string, error) {
	if err := h.Camera.StreamErr(); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

func (h *HTTPCamera) frames() (int, error) {
	return int(h.Camera.Frames()), nil
}

func (h *HTTPCamera) locked() (bool, error) {
	return h.Camera.Locked(), nil
}

func (h *HTTPCamera) reinitializations() (int, error) {
	return int(h.Camera.Reinitializations()), nil
}

// GetTemperature replies with the latest temperature reading
func (h *HTTPCamera) GetTemperature(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, h.Camera.Temperature())
}

func (h *HTTPCamera) setpoint() (float64, error) {
	return float64(h.Camera.TemperatureSetpoint()), nil
}

func (h *HTTPCamera) setSetpoint(c float64) error {
	_, err := h.Camera.SetTemperatureSetpoint(c)
	return classify(err)
}

func (h *HTTPCamera) fanSpeed() (float64, error) {
	return h.Camera.FanSpeed(), nil
}

func (h *HTTPCamera) setFanSpeed(f float64) error {
	_, err := h.Camera.SetFanSpeed(f)
	return classify(err)
}

// GetCameras lists the cameras attached to the SDK
func (h *HTTPCamera) GetCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := h.Camera.Cameras()
	if err != nil {
		generichttp.Fail(w, classify(err))
		return
	}
	server.ReplyJSON(w, cams)
}
