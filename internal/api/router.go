package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// AllowedOrigins defaults to "*" when empty.
	AllowedOrigins []string
	Logger         zerolog.Logger
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger.With().Str("component", "http").Logger()))
	r.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/renders", h.ListRenders)
		r.Post("/renders", h.CreateRender)
		r.Get("/renders/{id}", h.GetRender)
		r.Get("/renders/{id}/download", h.GetRenderDownload)
		r.Get("/renders/{id}/jobs", h.GetRenderJobs)
	})

	return r
}
