// Package service implements the key-rotating retry controller.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"openrouter-rotator-go/internal/client"
	"openrouter-rotator-go/internal/keypool"
	"openrouter-rotator-go/internal/metrics"
	"openrouter-rotator-go/internal/model"
)

// ExhaustedError reports that every key in the pool returned HTTP 429 for one
// logical request. LastBody carries the final upstream rate-limit payload.
type ExhaustedError struct {
	Attempts int
	LastBody []byte
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d upstream API keys are rate-limited", e.Attempts)
}

// Forwarder drives one logical request across up to pool-size key attempts.
// It holds no per-request state; each Forward call owns its retry sequence.
type Forwarder struct {
	client  *client.OpenRouterClient
	pool    *keypool.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewForwarder creates a Forwarder. The metrics parameter is optional.
func NewForwarder(c *client.OpenRouterClient, pool *keypool.Pool, logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		client:  c,
		pool:    pool,
		logger:  logger.With("component", "forwarder"),
		metrics: m,
	}
}

// Forward dispatches the request with rotated keys until a non-429 response
// arrives. Rotation is the whole retry strategy: there is no backoff between
// attempts, and the loop is bounded by the pool size so a fully rate-limited
// pool fails after exactly one pass.
//
// Only 429 is retried. Any other status — success or error — is returned
// verbatim: a non-429 failure likely reflects the request itself, which no
// other key would fix. Transport errors and timeouts are surfaced immediately
// for the same reason.
func (f *Forwarder) Forward(ctx context.Context, fr *model.ForwardRequest, streaming bool) (*model.UpstreamResult, error) {
	requestID := uuid.New().String()
	maxAttempts := f.pool.Size()

	var lastBody []byte
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		key := f.pool.Next()

		res, err := f.client.Dispatch(ctx, fr, key, streaming)
		if err != nil {
			f.recordAttempt(metrics.OutcomeError)
			return nil, fmt.Errorf("attempt %d/%d: %w", attempt, maxAttempts, err)
		}

		if res.StatusCode == http.StatusTooManyRequests {
			f.recordAttempt(metrics.OutcomeRateLimited)
			f.logger.Warn("key rate-limited, rotating",
				"request_id", requestID,
				"attempt", attempt,
				"max_attempts", maxAttempts,
			)
			lastBody = res.Body
			_ = res.Close()
			continue
		}

		if res.StatusCode >= http.StatusBadRequest {
			f.recordAttempt(metrics.OutcomeError)
			f.logger.Warn("upstream error passed through",
				"request_id", requestID,
				"attempt", attempt,
				"status", res.StatusCode,
			)
		} else {
			f.recordAttempt(metrics.OutcomeSuccess)
			f.logger.Debug("upstream success",
				"request_id", requestID,
				"attempt", attempt,
				"status", res.StatusCode,
				"streaming", res.Streaming(),
			)
		}
		return res, nil
	}

	if f.metrics != nil {
		f.metrics.PoolExhausted.Inc()
	}
	f.logger.Error("key pool exhausted",
		"request_id", requestID,
		"attempts", maxAttempts,
	)
	return nil, &ExhaustedError{Attempts: maxAttempts, LastBody: lastBody}
}

func (f *Forwarder) recordAttempt(outcome string) {
	if f.metrics != nil {
		f.metrics.RotationAttempts.WithLabelValues(outcome).Inc()
	}
}
