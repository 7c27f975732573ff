// Package server provides the development HTTP server for --serve mode.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/md2html/internal/sse"
)

// New builds the dev-server handler: the built site served from root,
// plus the live-reload SSE endpoint.
func New(root string, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if broker != nil {
		r.Get("/events", broker.ServeHTTP)
	}

	fs := http.FileServer(http.Dir(root))
	r.Handle("/*", noCache(fs))

	return r
}

// Address formats the listen address for a port.
func Address(port int) string {
	return fmt.Sprintf(":%d", port)
}

// noCache disables caching so rebuilt pages show up on plain refresh.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
