package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/bus"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSource consumes AudioFrame messages published by remote capture devices.
// A frame marked Final ends the stream.
type BusSource struct {
	client       *bus.Client
	subject      string
	sampleRate   int
	chunkSamples int
	logger       *slog.Logger
	onFault      FaultFunc
}

func NewBusSource(cfg config.AudioConfig, chunkSamples int, client *bus.Client, logger *slog.Logger, onFault FaultFunc) *BusSource {
	if logger == nil {
		logger = slog.Default()
	}
	if onFault == nil {
		onFault = ignoreFault
	}
	return &BusSource{
		client:       client,
		subject:      protocol.AudioFrameSubject(cfg.Session),
		sampleRate:   cfg.SampleRate,
		chunkSamples: chunkSamples,
		logger:       logger,
		onFault:      onFault,
	}
}

func (s *BusSource) Run(ctx context.Context, emit func(audio.Chunk)) error {
	var mu sync.Mutex
	chunks := newChunker(s.chunkSamples, emit)
	final := make(chan struct{})
	var finalOnce sync.Once
	var lastSeq uint64
	var seen bool

	sub, err := s.client.Conn().Subscribe(s.subject, func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			s.fault("failed to decode audio frame", err)
			return
		}
		if frame.SampleRate != s.sampleRate {
			s.fault("dropping frame", fmt.Errorf("sample rate %d, want %d", frame.SampleRate, s.sampleRate))
			return
		}
		samples, err := audio.DecodePCM16LE(frame.PCM)
		if err != nil {
			s.fault("dropping frame", err)
			return
		}

		mu.Lock()
		if seen && frame.Sequence != lastSeq+1 {
			s.logger.Warn("audio frame gap", slog.Uint64("expected", lastSeq+1), slog.Uint64("got", frame.Sequence))
		}
		seen, lastSeq = true, frame.Sequence
		chunks.add(audio.Downmix(samples, max(frame.Channels, 1)))
		mu.Unlock()

		if frame.Final {
			finalOnce.Do(func() { close(final) })
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.logger.Info("listening for audio frames", slog.String("subject", s.subject))

	select {
	case <-ctx.Done():
	case <-final:
		s.logger.Info("final audio frame received")
	}
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn("failed to unsubscribe", slog.String("error", err.Error()))
	}

	mu.Lock()
	chunks.flush()
	mu.Unlock()
	return nil
}

func (s *BusSource) fault(msg string, err error) {
	s.logger.Warn(msg, slog.String("error", err.Error()))
	s.onFault(err)
}
