// Package gateway is the stateless request adapter in front of a deployed
// prediction endpoint. Each invocation performs one logical downstream call;
// transient failures are retried a bounded number of times with jittered
// backoff before surfacing a structured error.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"headline-backend/internal/core"
	"headline-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-resty/resty/v2"
)

var ErrDownstreamInvoke = errors.New("prediction endpoint invocation failed")

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
)

type Adapter struct {
	client      *resty.Client
	endpointURL string

	maxAttempts int
	baseDelay   time.Duration
}

type Option func(*Adapter)

func WithMaxAttempts(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(a *Adapter) { a.baseDelay = d }
}

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.SetTimeout(d) }
}

func NewAdapter(endpointURL string, opts ...Option) *Adapter {
	a := &Adapter{
		client:      resty.New().SetTimeout(10 * time.Second),
		endpointURL: strings.TrimSuffix(endpointURL, "/"),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle forwards one prediction request to the configured endpoint. Network
// errors, timeouts, throttling and 5xx responses are retried; any other 4xx
// is the caller's fault and returned immediately.
func (a *Adapter) Handle(ctx context.Context, req api.PredictRequest) (api.PredictResponse, error) {
	var lastErr error

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := a.backoff(attempt)
			slog.Warn("retrying prediction call", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return api.PredictResponse{}, fmt.Errorf("%w: %v", ErrDownstreamInvoke, ctx.Err())
			}
		}

		var out api.PredictResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetBody(req).
			SetResult(&out).
			Post(a.endpointURL + "/invocations")

		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrDownstreamInvoke, err)
			continue
		}

		if resp.IsSuccess() {
			// A label outside the trained category set means the endpoint is
			// serving an artifact that does not match this build.
			if _, err := core.ParseCategory(out.Label); err != nil {
				return api.PredictResponse{}, fmt.Errorf("%w: %v", ErrDownstreamInvoke, err)
			}
			return out, nil
		}

		status := resp.StatusCode()
		lastErr = fmt.Errorf("%w: endpoint returned status %d: %s", ErrDownstreamInvoke, status, strings.TrimSpace(string(resp.Body())))

		if !retryableStatus(status) {
			return api.PredictResponse{}, lastErr
		}
	}

	return api.PredictResponse{}, lastErr
}

func (a *Adapter) backoff(attempt int) time.Duration {
	base := a.baseDelay * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return base + jitter
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (a *Adapter) AddRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/classify", a.Classify)
}

// Classify is the HTTP surface of the adapter. Every failure path produces a
// structured JSON error; nothing is allowed to fall through silently.
func (a *Adapter) Classify(w http.ResponseWriter, r *http.Request) {
	var req api.PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "unable to parse request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "request contains no text"})
		return
	}

	out, err := a.Handle(r.Context(), req)
	if err != nil {
		slog.Error("prediction call failed", "error", err)
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("error writing response", "error", err)
	}
}
