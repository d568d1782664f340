// Package courier assigns couriers to dispatch requests and reports the
// result back to the saga as a dispatch outcome.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"order-saga/models"

	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned when no courier can be assigned.
var ErrUnavailable = errors.New("courier service not available")

// Courier picks a courier for a dispatch request.
type Courier interface {
	Assign(ctx context.Context, req models.DispatchRequest) (string, error)
}

// StaticCourier always assigns the same address.
type StaticCourier struct {
	Address string
}

func (s StaticCourier) Assign(ctx context.Context, req models.DispatchRequest) (string, error) {
	if strings.TrimSpace(s.Address) == "" {
		return "", ErrUnavailable
	}
	return s.Address, nil
}

// AssignRequest is the body posted to the courier service
type AssignRequest struct {
	ExecutionID string `json:"execution_id"`
	ProductID   string `json:"product_id"`
	Quantity    int64  `json:"quantity"`
}

// AssignResponse is the courier service reply
type AssignResponse struct {
	Assigned bool   `json:"assigned"`
	Courier  string `json:"courier"`
	Message  string `json:"message,omitempty"`
}

type BreakerConfig struct {
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenLimit int
}

// HTTPCourier asks a remote courier service for an assignment. Calls go
// through a circuit breaker so a failing service is not hammered.
type HTTPCourier struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[string]
}

func NewHTTPCourier(baseURL string, timeout time.Duration, cfg BreakerConfig, logger *slog.Logger) *HTTPCourier {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "courier",
		MaxRequests: toUint32(cfg.HalfOpenLimit),
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &HTTPCourier{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		breaker:    cb,
	}
}

func (c *HTTPCourier) Assign(ctx context.Context, req models.DispatchRequest) (string, error) {
	name, err := c.breaker.Execute(func() (string, error) {
		return c.assign(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return name, err
}

func (c *HTTPCourier) assign(ctx context.Context, req models.DispatchRequest) (string, error) {
	jsonData, err := json.Marshal(AssignRequest{
		ExecutionID: req.ExecutionID,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal assign request: %w", err)
	}

	url := fmt.Sprintf("%s/assign", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create assign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call courier service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("courier service returned status %d: %s", resp.StatusCode, string(body))
	}

	var assignResp AssignResponse
	if err := json.NewDecoder(resp.Body).Decode(&assignResp); err != nil {
		return "", fmt.Errorf("failed to decode assign response: %w", err)
	}
	if !assignResp.Assigned || assignResp.Courier == "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, assignResp.Message)
	}
	return assignResp.Courier, nil
}

// State reports the circuit breaker state.
func (c *HTTPCourier) State() gobreaker.State {
	return c.breaker.State()
}

func toUint32(v int) uint32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
