package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

// Metrics holds pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	turnDuration       metric.Float64Histogram
	generationDuration metric.Float64Histogram
	inflight           metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx := context.Background()
	m := &Metrics{}
	var err error

	m.turnDuration, err = meter.Float64Histogram(
		"swarmweaver.turn.duration_seconds",
		metric.WithDescription("Duration of message processing from receipt to delivery"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create turn duration histogram", zap.Error(err))
	}

	m.generationDuration, err = meter.Float64Histogram(
		"swarmweaver.generation.duration_seconds",
		metric.WithDescription("Duration of model generation calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create generation duration histogram", zap.Error(err))
	}

	m.inflight, err = meter.Int64UpDownCounter(
		"swarmweaver.turns.inflight",
		metric.WithDescription("Messages currently being processed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create inflight counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) turnStarted(ctx context.Context) {
	if m == nil || m.inflight == nil {
		return
	}
	m.inflight.Add(ctx, 1)
}

func (m *Metrics) turnFinished(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if m.inflight != nil {
		m.inflight.Add(ctx, -1)
	}
	if m.turnDuration != nil {
		m.turnDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *Metrics) generated(ctx context.Context, agentID string, elapsed time.Duration, failed bool) {
	if m == nil || m.generationDuration == nil {
		return
	}
	m.generationDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("agent", agentID),
		attribute.Bool("error", failed),
	))
}
