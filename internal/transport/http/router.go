// Package http wires the module handlers into one router.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// Handlers holds the module handlers the router mounts.
type Handlers struct {
	Auth        Registrar
	Connections Registrar
	Properties  Registrar
	Transfers   Registrar
	Sync        Registrar
}

// NewRouter mounts every module under /api/v1 plus the operational endpoints.
func NewRouter(h Handlers) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	mount(r, "/api/v1/auth", h.Auth)
	mount(r, "/api/v1/connections", h.Connections)
	mount(r, "/api/v1/properties", h.Properties)
	mount(r, "/api/v1/transfers", h.Transfers)
	mount(r, "/api/v1/sync", h.Sync)

	return r
}

func mount(r chi.Router, prefix string, registrar Registrar) {
	if registrar == nil {
		return
	}
	sub := chi.NewRouter()
	registrar.Register(sub)
	r.Mount(prefix, sub)
}
