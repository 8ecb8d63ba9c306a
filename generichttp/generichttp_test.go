package generichttp

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type teapot struct{}

func (teapot) Error() string   { return "short and stout" }
func (teapot) StatusCode() int { return http.StatusTeapot }

func TestFail(t *testing.T) {
	w := httptest.NewRecorder()
	Fail(w, errors.New("plain"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	Fail(w, fmt.Errorf("wrapped: %w", teapot{}))
	if w.Code != http.StatusTeapot {
		t.Errorf("expected 418 got %d", w.Code)
	}
}

func TestSetFloat(t *testing.T) {
	var got float64
	h := SetFloat(func(f float64) error {
		got = f
		return nil
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"f64": 0.25}`)))
	if w.Code != http.StatusOK || got != 0.25 {
		t.Errorf("expected 200 and 0.25 got %d and %v", w.Code, got)
	}

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json got %d", w.Code)
	}
}

func TestGetters(t *testing.T) {
	cases := []struct {
		h        http.HandlerFunc
		expected string
	}{
		{GetFloat(func() (float64, error) { return -20, nil }), "{\"f64\":-20}\n"},
		{GetInt(func() (int, error) { return 7, nil }), "{\"int\":7}\n"},
		{GetString(func() (string, error) { return "Running", nil }), "{\"str\":\"Running\"}\n"},
		{GetBool(func() (bool, error) { return true, nil }), "{\"bool\":true}\n"},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.h(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if got := w.Body.String(); got != c.expected {
			t.Errorf("expected %q got %q", c.expected, got)
		}
	}

	w := httptest.NewRecorder()
	GetBool(func() (bool, error) { return false, teapot{} })(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("expected the getter error status got %d", w.Code)
	}
}
