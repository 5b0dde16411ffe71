// Package stream turns a continuous chunk stream into overlapping windows,
// runs each through a recognizer and folds the results into a transcript.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/stt"
	"github.com/loqalabs/loqa-live/internal/translate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Pairer produces the bilingual rendering of a delta.
type Pairer interface {
	Pair(ctx context.Context, text string) (translate.Pair, error)
}

type Options struct {
	Session            string
	SampleRate         int
	WindowSamples      int
	HopSamples         int
	MaxBufferedSamples int
	Policy             MergePolicy
	Params             stt.Params
	InferenceTimeout   time.Duration
	DrainOnShutdown    bool
	DrainTimeout       time.Duration
}

// OptionsFromConfig derives sample counts and the merge policy from cfg.
func OptionsFromConfig(cfg config.Config, session string) (Options, error) {
	policy, err := NewPolicy(cfg.Stream)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Session:            session,
		SampleRate:         cfg.Audio.SampleRate,
		WindowSamples:      cfg.WindowSamples(),
		HopSamples:         cfg.HopSamples(),
		MaxBufferedSamples: cfg.MaxBufferedSamples(),
		Policy:             policy,
		Params:             stt.ParamsFromConfig(cfg.STT),
		InferenceTimeout:   time.Duration(cfg.STT.TimeoutMS) * time.Millisecond,
		DrainOnShutdown:    cfg.Stream.DrainOnShutdown,
		DrainTimeout:       time.Duration(cfg.Stream.ShutdownTimeoutMS) * time.Millisecond,
	}, nil
}

// Pipeline is the consumer side of the stream. The capture goroutine calls Enqueue;
// Run pops chunks, schedules windows and runs inference strictly one window at a time.
type Pipeline struct {
	opts    Options
	queue   *Queue
	sched   *Scheduler
	merger  *Merger
	rec     stt.Recognizer
	pairer  Pairer
	sink    Sink
	events  EventRecorder
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *pipelineMetrics

	windows           atomic.Int64
	emitted           atomic.Int64
	inferenceFaults   atomic.Int64
	translationFaults atomic.Int64
	dropped           atomic.Int64
	running           atomic.Bool
}

func NewPipeline(opts Options, rec stt.Recognizer, pairer Pairer, sink Sink, events EventRecorder, logger *slog.Logger) (*Pipeline, error) {
	if rec == nil {
		return nil, errors.New("stream: recognizer is required")
	}
	if opts.SampleRate <= 0 {
		return nil, config.Invalid("audio.sample_rate_hz", "must be positive")
	}
	sched, err := NewScheduler(opts.WindowSamples, opts.HopSamples, opts.MaxBufferedSamples)
	if err != nil {
		return nil, err
	}
	if opts.Policy == nil {
		opts.Policy = NoContext{}
	}
	// The policy owns the carried context; the backend must not keep its own.
	if opts.Policy.UsesContext() {
		opts.Params.ConditionOnPreviousText = false
	}
	if sink == nil {
		sink = discardSink{}
	}
	if events == nil {
		events = discardEvents{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "stream"), slog.String("session", opts.Session))

	queue := NewQueue(opts.MaxBufferedSamples)
	return &Pipeline{
		opts:    opts,
		queue:   queue,
		sched:   sched,
		merger:  NewMerger(opts.Policy),
		rec:     rec,
		pairer:  pairer,
		sink:    sink,
		events:  events,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newPipelineMetrics(logger, opts.SampleRate, queue, sched),
	}, nil
}

// Enqueue hands a captured chunk to the pipeline without blocking.
func (p *Pipeline) Enqueue(ctx context.Context, chunk audio.Chunk) {
	if n := p.queue.Push(chunk); n > 0 {
		p.reportDropped(ctx, n, "queue")
	}
}

// CloseInput marks the end of capture. Run returns once the queue is drained.
func (p *Pipeline) CloseInput() { p.queue.Close() }

// Run consumes chunks until the input is closed or ctx is cancelled. On cancellation
// queued audio is processed first when drain is enabled, bounded by DrainTimeout.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)
	defer p.metrics.close()

	p.events.RecordEvent(ctx, EventSessionStarted, map[string]any{
		"sample_rate":    p.opts.SampleRate,
		"window_samples": p.opts.WindowSamples,
		"hop_samples":    p.opts.HopSamples,
		"merge_policy":   p.opts.Policy.Name(),
	})
	p.logger.Info("pipeline started",
		slog.Int("window_samples", p.opts.WindowSamples),
		slog.Int("hop_samples", p.opts.HopSamples),
		slog.String("merge_policy", p.opts.Policy.Name()),
	)

	// With drain enabled the window in flight at cancellation is allowed to finish.
	work := ctx
	if p.opts.DrainOnShutdown {
		work = context.WithoutCancel(ctx)
	}
	for {
		chunk, err := p.queue.Pop(ctx)
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		if err != nil {
			p.drain(ctx)
			break
		}
		p.offer(work, chunk)
	}

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.drainTimeout())
	defer cancel()
	summary := p.Summary()
	if err := p.sink.Close(finalCtx, summary); err != nil {
		p.logger.Warn("failed to close sink", slogError(err))
	}
	p.events.RecordEvent(finalCtx, EventSessionStopped, summary.withoutTranscript())
	p.logger.Info("pipeline stopped",
		slog.Int64("windows", summary.Windows),
		slog.Int64("emitted", summary.Emitted),
		slog.Int64("inference_faults", summary.InferenceFaults),
		slog.Int64("dropped_samples", summary.DroppedSamples),
	)
	return nil
}

func (p *Pipeline) drain(parent context.Context) {
	if !p.opts.DrainOnShutdown {
		if n := p.queue.Len(); n > 0 {
			p.logger.Info("discarding queued audio", slog.Int("chunks", n))
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.drainTimeout())
	defer cancel()
	for ctx.Err() == nil {
		chunk, ok := p.queue.TryPop()
		if !ok {
			return
		}
		p.offer(ctx, chunk)
	}
	p.logger.Warn("drain timed out", slog.Int("chunks_left", p.queue.Len()))
}

func (p *Pipeline) drainTimeout() time.Duration {
	if p.opts.DrainTimeout > 0 {
		return p.opts.DrainTimeout
	}
	return 5 * time.Second
}

func (p *Pipeline) offer(ctx context.Context, chunk audio.Chunk) {
	skipped := 0
	dropped := p.sched.Offer(chunk, func(w Window) {
		if ctx.Err() != nil {
			skipped++
			return
		}
		p.handleWindow(ctx, w)
	})
	if skipped > 0 {
		p.logger.Info("stopping, windows not transcribed", slog.Int("windows", skipped))
	}
	if dropped > 0 {
		p.reportDropped(ctx, dropped, "accumulator")
	}
}

func (p *Pipeline) reportDropped(ctx context.Context, n int, where string) {
	p.dropped.Add(int64(n))
	p.metrics.addDropped(ctx, n, where)
	seconds := float64(n) / float64(p.opts.SampleRate)
	p.logger.Warn("audio buffer over capacity, dropped oldest samples",
		slog.String("buffer", where),
		slog.Int("samples", n),
		slog.Float64("seconds", seconds),
	)
	p.events.RecordEvent(ctx, EventBackpressure, map[string]any{"buffer": where, "samples": n})
}

func (p *Pipeline) handleWindow(ctx context.Context, w Window) {
	ctx, span := p.tracer.Start(ctx, "stream.window", trace.WithAttributes(
		attribute.Int("window.index", w.Index),
		attribute.Int64("window.start_sample", w.Start),
		attribute.Int("window.samples", len(w.Samples)),
	))
	defer span.End()

	p.windows.Add(1)
	p.metrics.windows.Add(ctx, 1)

	res := p.infer(ctx, w)
	span.SetAttributes(attribute.Float64("inference.latency_seconds", res.Latency.Seconds()))

	delta, ok := p.merger.Merge(res)
	if !ok {
		return
	}

	update := Update{
		Session:     p.opts.Session,
		WindowIndex: w.Index,
		WindowStart: float64(w.Start) / float64(p.opts.SampleRate),
		Delta:       delta,
		Language:    res.Language,
		Latency:     res.Latency,
		Timestamp:   time.Now().UTC(),
	}
	if p.opts.Policy.UsesContext() {
		update.Transcript = p.merger.Transcript().Text()
	}
	if p.pairer != nil {
		pair, err := p.pairer.Pair(ctx, delta)
		if err != nil {
			p.translationFaults.Add(1)
			p.metrics.translationFaults.Add(ctx, 1)
			p.logger.Warn("translation failed", slog.Int("window", w.Index), slogError(err))
			p.events.RecordEvent(ctx, EventTranslationFault, map[string]any{"window": w.Index, "error": err.Error()})
		}
		if pair.Primary != "" || pair.Secondary != "" {
			update.Pair = &pair
			if update.Language == "" {
				update.Language = pair.Detected
			}
		}
	}

	p.emitted.Add(1)
	p.metrics.emitted.Add(ctx, 1)
	if err := p.sink.Publish(ctx, update); err != nil {
		p.logger.Warn("failed to publish update", slog.Int("window", w.Index), slogError(err))
	}
}

// infer never fails: a faulted window contributes empty text and the stream moves on.
func (p *Pipeline) infer(ctx context.Context, w Window) InferenceResult {
	req := stt.Request{
		Samples:    audio.ToFloat32(w.Samples),
		SampleRate: p.opts.SampleRate,
		Prompt:     p.merger.Context(),
		Params:     p.opts.Params,
	}
	callCtx := ctx
	if p.opts.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.opts.InferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := p.rec.Transcribe(callCtx, req)
	latency := time.Since(start)
	p.metrics.latency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.Bool("error", err != nil)))

	if err != nil && ctx.Err() != nil {
		p.logger.Debug("inference interrupted by shutdown", slog.Int("window", w.Index))
		return InferenceResult{WindowIndex: w.Index, Latency: latency}
	}
	if err != nil {
		p.inferenceFaults.Add(1)
		p.metrics.inferenceFaults.Add(ctx, 1)
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		p.logger.Warn("inference failed, skipping window",
			slog.Int("window", w.Index),
			slog.Duration("latency", latency),
			slogError(err),
		)
		p.events.RecordEvent(ctx, EventInferenceFault, map[string]any{
			"window":  w.Index,
			"timeout": errors.Is(err, context.DeadlineExceeded),
			"error":   err.Error(),
		})
		return InferenceResult{WindowIndex: w.Index, Latency: latency}
	}
	return InferenceResult{
		WindowIndex: w.Index,
		Text:        out.Text,
		Language:    out.Language,
		Latency:     latency,
	}
}

// Transcript is a snapshot of the accumulated transcript.
func (p *Pipeline) Transcript() Transcript { return p.merger.Transcript() }

// Running reports whether Run is active.
func (p *Pipeline) Running() bool { return p.running.Load() }

func (p *Pipeline) Summary() Summary {
	return Summary{
		Session:           p.opts.Session,
		Windows:           p.windows.Load(),
		Emitted:           p.emitted.Load(),
		InferenceFaults:   p.inferenceFaults.Load(),
		TranslationFaults: p.translationFaults.Load(),
		DroppedSamples:    p.dropped.Load(),
		Transcript:        p.merger.Transcript().Text(),
	}
}

func (s Summary) withoutTranscript() Summary {
	s.Transcript = ""
	return s
}
