// Package diag implements the read-only diagnostic HTTP surface shared by
// linebusd and eposcom: a small JSON-over-chi mux a caller can point curl or
// a browser at to see what the original's SIGUSR1 stats dump printed to the
// log, without having to tail a log file.
//
// It is grounded on server/server.go's RouteTable/Server/Mainframe
// pattern — a named set of handlers bound under a URL stem, plus a
// list-of-routes introspection endpoint — rebuilt on a chi.Router so each
// daemon can mount its own handful of endpoints without a global
// http.DefaultServeMux.
package diag

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
)

// Mux is a small named set of JSON-producing GET endpoints.
type Mux struct {
	router chi.Router
	routes []string
}

// New returns an empty Mux.
func New() *Mux {
	return &Mux{router: chi.NewRouter()}
}

// HandleJSON registers a GET route at path whose response body is fn's
// return value encoded as JSON, mirroring server.Server.BindRoutes' handling
// of a RouteTable entry.
func (m *Mux) HandleJSON(path string, fn func() interface{}) {
	m.routes = append(m.routes, path)
	m.router.Get(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// ListRoutes returns every path registered with HandleJSON, the chi-mux
// analogue of server.Server.ListRoutes.
func (m *Mux) ListRoutes() []string {
	return append([]string(nil), m.routes...)
}

// bindListRoutes wires the "/routes" introspection endpoint; called lazily
// from ListenAndServe so a Mux with no handlers yet still reports an empty
// list rather than 404ing.
func (m *Mux) bindListRoutes() {
	m.router.Get("/routes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.ListRoutes())
	})
}

// ListenAndServe starts serving m on addr. It is a no-op returning nil if
// addr is empty, matching config.Config.DiagAddr's "empty disables it"
// contract.
func (m *Mux) ListenAndServe(addr string) error {
	if addr == "" {
		return nil
	}
	m.bindListRoutes()
	return http.ListenAndServe(addr, m.router)
}
