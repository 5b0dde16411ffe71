package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/bus"
	"github.com/loqalabs/loqa-live/internal/capture"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/eventstore"
	"github.com/loqalabs/loqa-live/internal/natsserver"
	"github.com/loqalabs/loqa-live/internal/present"
	"github.com/loqalabs/loqa-live/internal/stream"
	"github.com/loqalabs/loqa-live/internal/stt"
	"github.com/loqalabs/loqa-live/internal/translate"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	console    io.Writer
	httpServer *http.Server
	listener   net.Listener
	ready      atomic.Bool
	wg         sync.WaitGroup

	busClient *bus.Client
	pipeline  *stream.Pipeline
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithConsole redirects caption output, which defaults to stdout.
func WithConsole(w io.Writer) Option {
	return func(r *Runtime) { r.console = w }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:     cfg,
		logger:  logger,
		console: os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start wires the capture source, pipeline and sinks and blocks until ctx is
// cancelled or the input ends. Any error is an initialization or capture failure.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		r.busClient, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		defer r.busClient.Close()
	}

	recognizer, err := r.startRecognizer(ctx)
	if err != nil {
		return err
	}
	if closer, ok := recognizer.(stt.Closer); ok {
		defer closer.Close()
	}

	var pairer stream.Pairer
	if r.cfg.Translation.Enabled {
		translator, err := translate.New(r.cfg.Translation)
		if err != nil {
			return fmt.Errorf("init translation: %w", err)
		}
		pairer = translate.NewPairer(r.cfg.Translation, translator, nil, r.logger)
	}

	var hub *present.Hub
	sinks := present.Multi{}
	if r.cfg.Output.Console {
		sinks = append(sinks, present.NewConsole(r.console, r.cfg.Translation.PrimaryLanguage, r.cfg.Translation.SecondaryLanguage, r.cfg.Output.Color))
	}
	if r.cfg.Output.Bus {
		sinks = append(sinks, present.NewBusPublisher(r.busClient, r.cfg.Output.Subject))
	}
	if r.cfg.Output.WebSocket {
		hub = present.NewHub(r.logger)
		sinks = append(sinks, hub)
	}

	sessionID := uuid.NewString()
	opts, err := stream.OptionsFromConfig(r.cfg, sessionID)
	if err != nil {
		return err
	}
	if err := store.OpenSession(ctx, eventstore.Session{ID: sessionID, Source: r.cfg.Audio.Source, MergePolicy: opts.Policy.Name()}); err != nil {
		r.logger.Warn("failed to record session", slog.String("error", err.Error()))
	}
	defer func() {
		if err := store.CloseSession(context.Background(), sessionID); err != nil {
			r.logger.Warn("failed to close session record", slog.String("error", err.Error()))
		}
	}()
	events := store.Recorder(sessionID)

	r.pipeline, err = stream.NewPipeline(opts, recognizer, pairer, sinks, events, r.logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	onFault := func(err error) {
		events.RecordEvent(runCtx, stream.EventCaptureFault, map[string]string{"error": err.Error()})
	}
	source, err := capture.New(r.cfg.Audio, r.cfg.ChunkSamples(), r.busClient, r.logger, onFault)
	if err != nil {
		return fmt.Errorf("init capture: %w", err)
	}

	if r.cfg.HTTP.Enabled {
		if err := r.startHTTP(metricsHandler, hub); err != nil {
			return err
		}
		defer r.stopHTTP()
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := r.pipeline.Run(runCtx); err != nil {
			r.logger.Error("pipeline failed", slog.String("error", err.Error()))
		}
	}()

	captureErr := make(chan error, 1)
	go func() {
		err := source.Run(runCtx, func(c audio.Chunk) {
			r.pipeline.Enqueue(runCtx, c)
		})
		r.pipeline.CloseInput()
		captureErr <- err
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("session", sessionID),
		slog.String("source", r.cfg.Audio.Source),
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.Bool("translation", r.cfg.Translation.Enabled),
	)

	var runErr error
	captureJoined := false
	select {
	case <-ctx.Done():
		r.logger.Info("runtime stopping")
	case err := <-captureErr:
		captureJoined = true
		if err != nil {
			runErr = fmt.Errorf("capture failed: %w", err)
			r.logger.Error("capture failed", slog.String("error", err.Error()))
		} else {
			r.logger.Info("capture finished, draining")
		}
	case <-consumerDone:
	}
	r.ready.Store(false)

	if runErr != nil {
		cancel()
	}
	if !r.awaitConsumer(ctx, consumerDone, cancel) {
		r.logger.Warn("pipeline did not stop in time")
	}
	cancel()
	if !captureJoined {
		r.awaitProducer(captureErr)
	}
	return runErr
}

// awaitProducer waits for the capture goroutine so the bus and event store
// outlive it. The wait is bounded by the shutdown budget.
func (r *Runtime) awaitProducer(captureErr <-chan error) {
	select {
	case err := <-captureErr:
		if err != nil {
			r.logger.Warn("capture stopped with error", slog.String("error", err.Error()))
			return
		}
		r.logger.Info("capture stopped")
	case <-time.After(time.Duration(r.cfg.Stream.ShutdownTimeoutMS) * time.Millisecond):
		r.logger.Warn("capture did not stop in time")
	}
}

// awaitConsumer waits for the pipeline to finish. After ctx is cancelled the wait is
// bounded by the drain budget plus one inference call.
func (r *Runtime) awaitConsumer(ctx context.Context, done <-chan struct{}, cancel context.CancelFunc) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		cancel()
	}
	budget := time.Duration(r.cfg.Stream.ShutdownTimeoutMS+r.cfg.STT.TimeoutMS) * time.Millisecond
	select {
	case <-done:
		return true
	case <-time.After(budget):
		return false
	}
}

func (r *Runtime) startRecognizer(ctx context.Context) (stt.Recognizer, error) {
	recognizer, err := stt.New(r.cfg.STT, r.logger.With(slog.String("component", "stt")))
	if err != nil {
		return nil, fmt.Errorf("init stt: %w", err)
	}
	if !r.cfg.STT.Warmup {
		return recognizer, nil
	}
	warmCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.STT.TimeoutMS)*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := stt.Warmup(warmCtx, recognizer, r.cfg.Audio.SampleRate, stt.ParamsFromConfig(r.cfg.STT)); err != nil {
		if closer, ok := recognizer.(stt.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	r.logger.Info("stt warmed up", slog.Duration("took", time.Since(start)))
	return recognizer, nil
}

func (r *Runtime) startHTTP(metrics http.Handler, hub *present.Hub) error {
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.listener = ln
	r.httpServer = &http.Server{
		Handler:           r.routes(metrics, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http listening", slog.String("addr", ln.Addr().String()))
	return nil
}

func (r *Runtime) stopHTTP() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
}

func (r *Runtime) routes(metrics http.Handler, hub *present.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	if hub != nil {
		mux.Handle("/ws", hub)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	busOK := !r.cfg.Bus.Enabled || r.busClient.Healthy()
	pipelineOK := r.pipeline != nil && r.pipeline.Running()
	if r.ready.Load() && busOK && pipelineOK {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
