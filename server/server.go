// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// FloatT is a JSON payload holding a float64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a JSON payload holding an int
type IntT struct {
	Int int `json:"int"`
}

// BoolT is a JSON payload holding a bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a JSON payload holding a string
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload holds one value of kind T and replies with it as the
// matching *T payload
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Float  float64
	Int    int
	String string
}

// EncodeAndRespond encodes the payload to JSON and writes it to w
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64, types.Float32:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		fstr := fmt.Sprintf("server: unsupported payload kind %v", hp.T)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	ReplyJSON(w, v)
}

// ReplyJSON writes v to w as JSON with status 200
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Printf("error encoding %T to json %q", v, err)
	}
}

// Route is one method and path pair
type Route struct {
	Method string
	Path   string
}

// Get returns a GET route on path
func Get(path string) Route {
	return Route{Method: http.MethodGet, Path: path}
}

// Post returns a POST route on path
func Post(path string) Route {
	return Route{Method: http.MethodPost, Path: path}
}

func (r Route) String() string {
	return r.Method + " " + r.Path
}

// RouteTable maps routes to their handlers
type RouteTable map[Route]http.HandlerFunc

// Endpoints lists the endpoints in a RouteTable, sorted by path then method
func (rt RouteTable) Endpoints() []string {
	routes := make([]Route, 0, len(rt))
	for k := range rt {
		routes = append(routes, k)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.String()
	}
	return out
}

// Bind binds every route in the table to mux, plus GET /endpoints which
// lists them
func (rt RouteTable) Bind(mux chi.Router) {
	for route, fn := range rt {
		mux.MethodFunc(route.Method, route.Path, fn)
	}
	list := rt.Endpoints()
	mux.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		ReplyJSON(w, list)
	})
}

// HTTPer is an object which has a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize cleans a mount point so it has a leading slash and no
// trailing slash, "" and "/" both becoming "/"
func SubMuxSanitize(str string) string {
	str = strings.Trim(str, "/")
	return "/" + str
}
