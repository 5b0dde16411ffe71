package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
)

// WAVSource replays a 16-bit PCM WAV file, optionally at wall-clock speed.
type WAVSource struct {
	path         string
	file         *os.File
	dec          *wav.Decoder
	channels     int
	sampleRate   int
	chunkSamples int
	realtime     bool
	logger       *slog.Logger
}

func NewWAVSource(cfg config.AudioConfig, chunkSamples int, logger *slog.Logger) (*WAVSource, error) {
	if chunkSamples <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%s is not a valid wav file", cfg.Path)
	}
	if dec.BitDepth != 16 {
		file.Close()
		return nil, fmt.Errorf("%s: unsupported bit depth %d, want 16", cfg.Path, dec.BitDepth)
	}
	if int(dec.SampleRate) != cfg.SampleRate {
		file.Close()
		return nil, fmt.Errorf("%s: sample rate %d does not match configured %d", cfg.Path, dec.SampleRate, cfg.SampleRate)
	}
	return &WAVSource{
		path:         cfg.Path,
		file:         file,
		dec:          dec,
		channels:     max(int(dec.NumChans), 1),
		sampleRate:   cfg.SampleRate,
		chunkSamples: chunkSamples,
		realtime:     cfg.Realtime,
		logger:       logger,
	}, nil
}

func (s *WAVSource) Run(ctx context.Context, emit func(audio.Chunk)) error {
	defer s.file.Close()

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
		Data:   make([]int, s.chunkSamples*s.channels),
	}
	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(time.Duration(s.chunkSamples) * time.Second / time.Duration(s.sampleRate))
		defer ticker.Stop()
	}
	s.logger.Info("replaying wav", slog.String("path", s.path), slog.Bool("realtime", s.realtime))

	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := s.dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("decode wav: %w", err)
		}
		n -= n % s.channels
		if n == 0 {
			s.logger.Info("wav input ended", slog.Uint64("chunks", seq))
			return nil
		}
		interleaved := make([]int16, n)
		for i := 0; i < n; i++ {
			interleaved[i] = int16(buf.Data[i])
		}
		emit(audio.Chunk{Seq: seq, Samples: audio.Downmix(interleaved, s.channels)})
		seq++

		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}
