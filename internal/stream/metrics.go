package stream

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-live/internal/stream"

type pipelineMetrics struct {
	windows           metric.Int64Counter
	emitted           metric.Int64Counter
	inferenceFaults   metric.Int64Counter
	translationFaults metric.Int64Counter
	droppedSamples    metric.Int64Counter
	latency           metric.Float64Histogram
	registration      metric.Registration
}

func newPipelineMetrics(logger *slog.Logger, sampleRate int, queue *Queue, sched *Scheduler) *pipelineMetrics {
	meter := otel.Meter(instrumentationName)
	m := &pipelineMetrics{}
	var err error
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", slog.String("instrument", name), slogError(err))
		}
	}

	m.windows, err = meter.Int64Counter("loqa_live.windows", metric.WithDescription("Windows handed to the recognizer"))
	warn("windows", err)
	m.emitted, err = meter.Int64Counter("loqa_live.updates", metric.WithDescription("Transcript updates emitted"))
	warn("updates", err)
	m.inferenceFaults, err = meter.Int64Counter("loqa_live.inference.faults", metric.WithDescription("Failed or timed out inference calls"))
	warn("inference.faults", err)
	m.translationFaults, err = meter.Int64Counter("loqa_live.translation.faults", metric.WithDescription("Failed translations"))
	warn("translation.faults", err)
	m.droppedSamples, err = meter.Int64Counter("loqa_live.samples.dropped", metric.WithDescription("Samples discarded by the buffer caps"))
	warn("samples.dropped", err)
	m.latency, err = meter.Float64Histogram("loqa_live.inference.latency", metric.WithUnit("s"), metric.WithDescription("Inference latency per window"))
	warn("inference.latency", err)

	buffered, err := meter.Float64ObservableGauge("loqa_live.buffered", metric.WithUnit("s"), metric.WithDescription("Audio waiting in the queue and accumulator"))
	warn("buffered", err)
	depth, err := meter.Int64ObservableGauge("loqa_live.queue.depth", metric.WithDescription("Chunks waiting for the pipeline"))
	warn("queue.depth", err)
	if buffered != nil && depth != nil {
		m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			samples := queue.Samples() + sched.Buffered()
			o.ObserveFloat64(buffered, float64(samples)/float64(sampleRate))
			o.ObserveInt64(depth, int64(queue.Len()))
			return nil
		}, buffered, depth)
		warn("callback", err)
	}
	return m
}

func (m *pipelineMetrics) addDropped(ctx context.Context, n int, where string) {
	m.droppedSamples.Add(ctx, int64(n), metric.WithAttributes(attribute.String("buffer", where)))
}

func (m *pipelineMetrics) close() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
