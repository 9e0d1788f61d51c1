package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// defaultWSPath is used when the websocket config leaves the path empty.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics)
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Get(wsPath, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/covers", func(r chi.Router) {
			r.Get("/", s.handleListCovers)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCover)
				r.Post("/command", s.handleCoverCommand)
				r.Get("/history", s.handleCoverHistory)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	covers := s.covers.Covers()
	ready := 0
	for _, c := range covers {
		if c.Ready {
			ready++
		}
	}

	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(s.uptime().Seconds()),
		"covers":         len(covers),
		"covers_ready":   ready,
		"ws_clients":     s.hub.ClientCount(),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
