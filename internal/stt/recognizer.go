package stt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-live/internal/config"
)

// Params are the decoding options forwarded to the backend. Backends ignore the ones they do not support.
type Params struct {
	Model                     string
	ModelPath                 string
	Device                    string
	ComputeType               string
	Language                  string
	Threads                   int
	BeamSize                  int
	Temperatures              []float64
	CompressionRatioThreshold float64
	NoSpeechThreshold         float64
	VADFilter                 bool
	ConditionOnPreviousText   bool
}

func ParamsFromConfig(cfg config.STTConfig) Params {
	return Params{
		Model:                     cfg.Model,
		ModelPath:                 cfg.ModelPath,
		Device:                    cfg.Device,
		ComputeType:               cfg.ComputeType,
		Language:                  cfg.Language,
		Threads:                   cfg.Threads,
		BeamSize:                  cfg.BeamSize,
		Temperatures:              append([]float64(nil), cfg.Temperatures...),
		CompressionRatioThreshold: cfg.CompressionRatioThreshold,
		NoSpeechThreshold:         cfg.NoSpeechThreshold,
		VADFilter:                 cfg.VADFilter,
		ConditionOnPreviousText:   cfg.ConditionOnPreviousText,
	}
}

// Request is one window of mono float audio in [-1, 1).
type Request struct {
	Samples    []float32
	SampleRate int
	Prompt     string
	Params     Params
}

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Language   string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, req Request) (TranscriptResult, error)
}

// New returns the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "whisper":
		return NewWhisperRecognizer(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

// Warmup runs one second of silence through the recognizer so the first real window
// does not pay model load and allocation costs.
func Warmup(ctx context.Context, rec Recognizer, sampleRate int, params Params) error {
	req := Request{
		Samples:    make([]float32, sampleRate),
		SampleRate: sampleRate,
		Params:     params,
	}
	if _, err := rec.Transcribe(ctx, req); err != nil {
		return fmt.Errorf("stt warm-up: %w", err)
	}
	return nil
}

// Closer is implemented by backends that hold native resources.
type Closer interface {
	Close() error
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
