// Package capture produces fixed-size mono PCM16 chunks from a microphone
// command, a WAV file or audio frames on the bus.
package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/bus"
	"github.com/loqalabs/loqa-live/internal/config"
)

// Source delivers chunks in capture order until ctx is cancelled or the input ends.
// Run returns nil when the input ended normally or ctx was cancelled.
type Source interface {
	Run(ctx context.Context, emit func(audio.Chunk)) error
}

// FaultFunc receives recoverable capture problems such as device overruns.
type FaultFunc func(err error)

// New builds the source named by cfg.Source. Sources that can be checked up front
// (a missing file, an unparsable command) fail here rather than in Run.
func New(cfg config.AudioConfig, chunkSamples int, busClient *bus.Client, logger *slog.Logger, onFault FaultFunc) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if onFault == nil {
		onFault = ignoreFault
	}
	logger = logger.With(slog.String("component", "capture"), slog.String("source", cfg.Source))
	switch cfg.Source {
	case "", "exec":
		return NewExecSource(cfg, chunkSamples, logger, onFault)
	case "wav":
		return NewWAVSource(cfg, chunkSamples, logger)
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("bus capture requires a bus connection")
		}
		return NewBusSource(cfg, chunkSamples, busClient, logger, onFault), nil
	default:
		return nil, fmt.Errorf("unsupported audio source %q", cfg.Source)
	}
}

func ignoreFault(error) {}

// chunker regroups arbitrary sample runs into chunks of a fixed size.
type chunker struct {
	size    int
	seq     uint64
	pending []int16
	emit    func(audio.Chunk)
}

func newChunker(size int, emit func(audio.Chunk)) *chunker {
	return &chunker{size: size, emit: emit}
}

func (c *chunker) add(samples []int16) {
	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.size {
		c.send(c.pending[:c.size])
		c.pending = c.pending[c.size:]
	}
}

// flush emits whatever is left as a short chunk.
func (c *chunker) flush() {
	if len(c.pending) == 0 {
		return
	}
	c.send(c.pending)
	c.pending = nil
}

func (c *chunker) send(samples []int16) {
	c.emit(audio.Chunk{Seq: c.seq, Samples: append([]int16(nil), samples...)})
	c.seq++
}
