package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "github.com/ruralpay/playcard/docs"
	"github.com/ruralpay/playcard/internal/config"
	mW "github.com/ruralpay/playcard/internal/middleware"
	"github.com/ruralpay/playcard/internal/realtime"
)

// NewRouter wires the gateway routes.
func NewRouter(cfg *config.Config, ledger Ledger, registry *realtime.Registry, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cards := NewCardHandler(ledger, logger)
	scans := NewScanHandler(ledger, registry, cfg.Realtime, logger)

	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"observers": registry.Len(),
		})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Observer channel; long lived, so outside the request timeout
	r.Get("/ws", scans.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		}

		r.Post("/cards", cards.CreateCard)
		r.Route("/cards/{cardId}", func(r chi.Router) {
			r.Get("/", cards.GetCard)
			r.Get("/history", cards.GetHistory)
			r.Post("/recharge", cards.Recharge)
			r.Post("/deduct", cards.Deduct)
			r.Put("/player", cards.UpdatePlayer)
			r.Put("/suspend", cards.SuspendCard)
			r.Put("/reinstate", cards.ReinstateCard)
		})

		// Reader endpoints
		r.Post("/esp/scan", scans.Scan)
	})

	return r
}
