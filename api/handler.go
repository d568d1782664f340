package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"order-saga/models"
	"order-saga/saga"

	"github.com/go-chi/chi/v5"
)

// maxJSONBodyBytes is the maximum allowed size for a JSON request body (1 MB).
const maxJSONBodyBytes = 1 << 20

type SubmitOrderRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UserID    string `json:"user_id"`
}

type SubmitOrderResponse struct {
	ExecutionID string `json:"execution_id"`
	StatusURL   string `json:"status_url"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is an RFC 9457 problem details body.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type OrderHandler struct {
	service SagaService
	logger  *slog.Logger
}

func NewOrderHandler(service SagaService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{service: service, logger: logger}
}

// SubmitOrder handles POST /api/v1/orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.service.Submit(r.Context(), models.OrderIntent{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UserID:    req.UserID,
	})
	if err != nil {
		h.writeError(w, r, "SubmitOrder", err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitOrderResponse{
		ExecutionID: id,
		StatusURL:   fmt.Sprintf("/api/v1/orders/%s", id),
	})
}

// GetOrder handles GET /api/v1/orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	exec, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "GetOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel. The body is optional.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.Cancel(r.Context(), id, req.Reason); err != nil {
		h.writeError(w, r, "CancelOrder", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *OrderHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Type:   "about:blank",
			Title:  http.StatusText(http.StatusBadRequest),
			Status: http.StatusBadRequest,
			Detail: "invalid JSON body",
		})
		return false
	}
	return true
}

func (h *OrderHandler) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{Type: "about:blank"}

	switch {
	case errors.Is(err, models.ErrInvalidOrder):
		status = http.StatusBadRequest
		resp.Reason = string(models.ReasonInvalidOrder)
		resp.Detail = err.Error()
	case errors.Is(err, saga.ErrNotFound):
		status = http.StatusNotFound
		resp.Detail = err.Error()
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("operation", operation),
			slog.Any("error", err),
		)
	}

	resp.Status = status
	resp.Title = http.StatusText(status)
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}
