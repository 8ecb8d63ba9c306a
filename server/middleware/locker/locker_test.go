package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/camflow/server"
)

type table server.RouteTable

func (t table) RT() server.RouteTable { return server.RouteTable(t) }

func TestCheck(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	rt := table{
		server.Post("/stream/start"): ok,
		server.Get("/stream/state"):  ok,
	}
	l := New()
	Inject(rt, l)
	mux := chi.NewRouter()
	mux.Use(l.Check)
	server.RouteTable(rt).Bind(mux)

	do := func(method, path, body string) int {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}

	if code := do(http.MethodPost, "/stream/start", ""); code != http.StatusOK {
		t.Errorf("expected 200 while unlocked got %d", code)
	}
	if code := do(http.MethodPost, "/lock", `{"bool":true}`); code != http.StatusOK {
		t.Fatalf("expected to lock got %d", code)
	}
	if !l.Locked() {
		t.Fatal("expected the locker to be locked")
	}
	if code := do(http.MethodPost, "/stream/start", ""); code != http.StatusLocked {
		t.Errorf("expected 423 while locked got %d", code)
	}
	if code := do(http.MethodGet, "/stream/state", ""); code != http.StatusOK {
		t.Errorf("expected reads to pass while locked got %d", code)
	}
	if code := do(http.MethodPost, "/lock", `{"bool":false}`); code != http.StatusOK {
		t.Errorf("expected the lock route to stay reachable got %d", code)
	}
	if code := do(http.MethodPost, "/stream/start", ""); code != http.StatusOK {
		t.Errorf("expected 200 after unlocking got %d", code)
	}
	if code := do(http.MethodPost, "/lock", `nope`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body got %d", code)
	}
}
