// Package api exposes order sagas over HTTP.
package api

import (
	"context"
	"net/http"

	"order-saga/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SagaService is implemented by saga.Service.
type SagaService interface {
	Submit(ctx context.Context, intent models.OrderIntent) (string, error)
	GetStatus(ctx context.Context, executionID string) (models.SagaExecution, error)
	Cancel(ctx context.Context, executionID, reason string) error
}

// NewRouter registers the order and health routes.
func NewRouter(h *OrderHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", Liveness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.SubmitOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/cancel", h.CancelOrder)
	})

	return r
}

// Liveness handles GET /health/live.
func Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
