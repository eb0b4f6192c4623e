package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// NewRouter mounts the websocket endpoint, the polling fallback API, health
// and metrics.
func NewRouter(ws *WSHandler, api *APIHandler) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/ws", ws.ServeWS)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins:   []string{"*"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	mux.Route("/api/quizzes/{quizID}", func(r chi.Router) {
		r.Use(c.Handler)
		r.Get("/ranking", api.Ranking)
		r.Get("/groups/{groupID}/state", api.State)
		r.Post("/groups/{groupID}/submit", api.Submit)
	})

	return mux
}
