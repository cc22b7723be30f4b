package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/guardrail/internal/metrics"
)

// Request is one validation to run against the model fleet.
type Request struct {
	Text string
	// Models to dispatch to; empty means every configured model, in
	// configured order.
	Models    []string
	Strategy  Strategy
	RequestID string
}

// Orchestrator fans a validation out to every enabled model in parallel,
// waits for all of them, and folds the outcomes into one verdict. Model
// failures never fail the validation; they are accounted for in the
// verdict instead.
type Orchestrator struct {
	caller  *Caller
	models  []string
	known   map[string]struct{}
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(caller *Caller, models []string, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	known := make(map[string]struct{}, len(models))
	for _, name := range models {
		known[name] = struct{}{}
	}
	return &Orchestrator{
		caller:  caller,
		models:  models,
		known:   known,
		metrics: m,
		logger:  logger,
	}
}

// Models returns the configured model names in dispatch order.
func (o *Orchestrator) Models() []string {
	return o.models
}

// Validate runs one fan-out. The only error return is a request naming an
// unconfigured model; everything else comes back as a verdict.
func (o *Orchestrator) Validate(ctx context.Context, req Request) (*ValidateResponse, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	models := req.Models
	if len(models) == 0 {
		models = o.models
	}
	for _, name := range models {
		if _, ok := o.known[name]; !ok {
			o.metrics.RequestTotal.WithLabelValues("error", "false").Inc()
			return nil, fmt.Errorf("unknown model %q", name)
		}
	}

	o.metrics.InFlight.Inc()
	defer o.metrics.InFlight.Dec()

	// One call per model; all of them run to completion before
	// aggregation, slower peers are never cancelled by faster ones.
	outcomes := make([]Outcome, len(models))
	var g errgroup.Group
	for i, name := range models {
		g.Go(func() error {
			outcomes[i] = o.caller.Call(ctx, name, req.Text, requestID)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]ModelResult, len(models))
	failed := []string{}
	reasons := []string{}

	for _, out := range outcomes {
		if out.Success && out.Prediction != nil {
			results[out.Model] = ModelResult{
				Flagged:   out.Prediction.Flagged,
				Score:     out.Prediction.Score,
				Details:   out.Prediction.Details,
				LatencyMS: out.Prediction.LatencyMS,
			}
			if out.Prediction.Flagged {
				reasons = append(reasons, out.Model+"_flagged")
			}
		} else {
			failed = append(failed, out.Model)
			o.logger.Warn("model call failed",
				zap.String("request_id", requestID),
				zap.String("model", out.Model),
				zap.String("kind", out.Kind.String()),
				zap.String("error", out.Err))
		}
	}

	flagged := Aggregate(results, req.Strategy)
	elapsed := time.Since(start)

	status := "success"
	if len(failed) > 0 {
		status = "partial"
	}
	o.metrics.RequestLatency.Observe(elapsed.Seconds())
	o.metrics.RequestTotal.WithLabelValues(status, strconv.FormatBool(flagged)).Inc()

	return &ValidateResponse{
		RequestID:      requestID,
		Flagged:        flagged,
		FlagReasons:    reasons,
		ModelResults:   results,
		PartialFailure: len(failed) > 0,
		FailedModels:   failed,
		LatencyMS:      elapsed.Milliseconds(),
	}, nil
}
