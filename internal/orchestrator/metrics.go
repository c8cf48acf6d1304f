package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/voice-proxy/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/voice-proxy/orchestrator"

type metrics struct {
	runs    metric.Int64Counter
	dropped metric.Int64Counter
	stages  metric.Float64Histogram
}

func newMetrics(bufferBytes func() int, logger *slog.Logger) *metrics {
	m, err := buildMetrics(otel.Meter(instrumentationName), bufferBytes)
	if err != nil {
		logger.Warn("failed to initialize metrics", slogError(err))
		m, _ = buildMetrics(noop.NewMeterProvider().Meter(instrumentationName), bufferBytes)
	}
	return m
}

func buildMetrics(meter metric.Meter, bufferBytes func() int) (*metrics, error) {
	runs, err := meter.Int64Counter("voiceproxy.runs",
		metric.WithDescription("Pipeline runs by kind and outcome"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("voiceproxy.buffer.dropped_bytes",
		metric.WithDescription("Captured bytes discarded because the buffer was full"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	stages, err := meter.Float64Histogram("voiceproxy.stage.duration",
		metric.WithDescription("Pipeline stage latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	buffered, err := meter.Int64ObservableGauge("voiceproxy.buffer.bytes",
		metric.WithDescription("Captured bytes waiting for dispatch"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(buffered, int64(bufferBytes()))
		return nil
	}, buffered)
	if err != nil {
		return nil, err
	}
	return &metrics{runs: runs, dropped: dropped, stages: stages}, nil
}

func (m *metrics) recordRun(ctx context.Context, kind, outcome string) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) recordStage(ctx context.Context, stage fault.Stage, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(fault.KindOf(err))
	}
	m.stages.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) recordDropped(ctx context.Context, n int) {
	m.dropped.Add(ctx, int64(n))
}
