package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/FairForge/guardrail/internal/breaker"
	"github.com/FairForge/guardrail/internal/clients"
	"github.com/FairForge/guardrail/internal/config"
	"github.com/FairForge/guardrail/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type predictRequest struct {
	Text      string `json:"text"`
	RequestID string `json:"request_id"`
}

// Caller invokes a single model service for a single request, enforcing
// the breaker gate, the timeout and the bounded retry policy. Every
// failure is absorbed into the returned Outcome; Call never panics or
// returns a Go error.
type Caller struct {
	pool     *clients.Pool
	breakers *breaker.Registry
	metrics  *metrics.Metrics
	retry    config.RetryConfig
	logger   *zap.Logger
}

func NewCaller(pool *clients.Pool, breakers *breaker.Registry, m *metrics.Metrics, retry config.RetryConfig, logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		pool:     pool,
		breakers: breakers,
		metrics:  m,
		retry:    retry,
		logger:   logger,
	}
}

// Call runs one model invocation. The breaker is consulted first (an open
// breaker is a zero-cost local rejection that records nothing), then the
// POST is attempted with retries on transient failures only. The terminal
// result, success or failure, is recorded on the breaker and in the
// latency histogram.
func (c *Caller) Call(ctx context.Context, model, text, requestID string) Outcome {
	cb := c.breakers.Get(model)

	if !cb.Allow() {
		return Outcome{
			Model: model,
			Kind:  ErrBreakerOpen,
			Err:   fmt.Sprintf("circuit breaker open for %s", model),
		}
	}

	client, err := c.pool.ClientFor(model)
	if err != nil {
		cb.RecordFailure()
		return Outcome{
			Model: model,
			Kind:  ErrUnexpected,
			Err:   fmt.Sprintf("error calling %s: %v", model, err),
		}
	}
	base, _ := c.pool.BaseURL(model)

	maxAttempts := 1
	if c.retry.Enabled {
		maxAttempts = c.retry.MaxAttempts
	}

	var (
		pred    *Prediction
		kind    ErrKind
		code    int
		callErr error
		elapsed time.Duration
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		pred, kind, code, callErr = c.attempt(ctx, client, base, text, requestID)
		elapsed = time.Since(start)

		if kind == ErrNone || !retryable(kind) || attempt == maxAttempts {
			break
		}
		if ctx.Err() != nil {
			break
		}

		c.metrics.ModelCallRetries.WithLabelValues(model, strconv.Itoa(attempt)).Inc()
		c.logger.Warn("model call retry",
			zap.String("model", model),
			zap.Int("attempt", attempt),
			zap.Error(callErr))

		select {
		case <-time.After(c.retry.Wait):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	// The caller went away mid-flight; the breaker never saw a terminal
	// outcome, so nothing is recorded.
	if kind != ErrNone && errors.Is(ctx.Err(), context.Canceled) {
		return Outcome{
			Model: model,
			Kind:  ErrUnexpected,
			Err:   fmt.Sprintf("request cancelled while calling %s", model),
		}
	}

	c.metrics.ModelCallLatency.WithLabelValues(model).Observe(elapsed.Seconds())

	if kind == ErrNone {
		cb.RecordSuccess()
		return Outcome{
			Model:      model,
			Success:    true,
			Prediction: pred,
		}
	}

	cb.RecordFailure()
	return Outcome{
		Model:      model,
		Kind:       kind,
		StatusCode: code,
		Err:        c.failureMessage(model, kind, code, callErr),
	}
}

// attempt performs exactly one POST /predict exchange.
func (c *Caller) attempt(ctx context.Context, client *http.Client, base, text, requestID string) (*Prediction, ErrKind, int, error) {
	body, err := json.Marshal(predictRequest{Text: text, RequestID: requestID})
	if err != nil {
		return nil, ErrUnexpected, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, ErrUnexpected, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(err), 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrHTTPStatus, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err), 0, err
	}

	var pred Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, ErrParse, 0, err
	}
	if pred.Score < 0 || pred.Score > 1 {
		return nil, ErrParse, 0, fmt.Errorf("score %v out of range", pred.Score)
	}
	if pred.LatencyMS < 0 {
		return nil, ErrParse, 0, fmt.Errorf("negative latency %d", pred.LatencyMS)
	}
	if pred.Details == nil {
		pred.Details = []string{}
	}
	return &pred, ErrNone, 0, nil
}

func (c *Caller) failureMessage(model string, kind ErrKind, code int, err error) string {
	switch kind {
	case ErrTimeout:
		return fmt.Sprintf("timeout calling %s (after %d attempts)", model, c.attempts())
	case ErrConnect:
		return fmt.Sprintf("connection error calling %s (after %d attempts)", model, c.attempts())
	case ErrHTTPStatus:
		return fmt.Sprintf("HTTP error from %s: %d", model, code)
	case ErrParse:
		return fmt.Sprintf("invalid prediction from %s: %v", model, err)
	default:
		return fmt.Sprintf("error calling %s: %v", model, err)
	}
}

func (c *Caller) attempts() int {
	if c.retry.Enabled {
		return c.retry.MaxAttempts
	}
	return 1
}

// retryable reports whether a failure kind is transient. HTTP status and
// parse failures are deterministic and must not be retried.
func retryable(kind ErrKind) bool {
	return kind == ErrTimeout || kind == ErrConnect
}

// classify maps a transport error to its failure kind.
func classify(err error) ErrKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ErrConnect
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return ErrConnect
	}
	return ErrUnexpected
}
