/**
 * @description
 * HTTP router setup for the insight service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers all routes.
func NewRouter(h *Handler, internalKey, operatorSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key", "X-Payment-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Insight service is healthy"))
	})

	// The payment provider calls this directly; it authenticates with
	// the HMAC signature instead of the internal key.
	r.Post("/webhooks/payment", h.handlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/payments", h.handleCreatePayment)
		r.Get("/access/{planet}", h.handleCheckAccess)
		r.Post("/bundle/continue", h.handleBundleContinue)
		r.Post("/recommendations", h.handleRequestRecommendations)
		r.Post("/questions", h.handleAskQuestion)
		r.Post("/profiles", h.handleCreateProfile)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/sweep/run", h.handleRunSweep)
		r.Get("/payments/retryable", h.handleListRetryable)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(operatorSecret))
		r.Post("/payments/{id}/reset", h.handleResetPayment)
	})

	return r
}
