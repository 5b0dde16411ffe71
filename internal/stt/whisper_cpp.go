//go:build whisper_cpp

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-live/internal/config"
)

// whisperRecognizer runs whisper.cpp in-process. The model is loaded once and a
// fresh context is created per window; calls are serialized.
type whisperRecognizer struct {
	model  whisperpkg.Model
	logger *slog.Logger
	mu     sync.Mutex
}

func NewWhisperRecognizer(cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	model, err := whisperpkg.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	logger.Info("whisper model loaded", slog.String("model", cfg.ModelPath))
	return &whisperRecognizer{model: model, logger: logger}, nil
}

func (w *whisperRecognizer) Close() error {
	return w.model.Close()
}

func (w *whisperRecognizer) Transcribe(ctx context.Context, req Request) (TranscriptResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	wctx, err := w.model.NewContext()
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("create whisper context: %w", err)
	}

	p := req.Params
	threads := p.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))
	lang := p.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper language %q: %w", lang, err)
	}
	wctx.SetTranslate(false)
	wctx.SetSplitOnWord(true)
	if p.BeamSize > 0 {
		wctx.SetBeamSize(p.BeamSize)
	}
	if len(p.Temperatures) > 0 {
		wctx.SetTemperature(float32(p.Temperatures[0]))
		if len(p.Temperatures) > 1 {
			wctx.SetTemperatureFallback(float32(p.Temperatures[1] - p.Temperatures[0]))
		}
	}
	if p.CompressionRatioThreshold > 0 {
		wctx.SetEntropyThold(float32(p.CompressionRatioThreshold))
	}
	if n := whisperMaxContext(p, req.Prompt); n >= 0 {
		wctx.SetMaxContext(n)
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	// whisper.cpp has no cancellation hook; abort between segments instead.
	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper process: %w", err)
	}

	var segments []string
	for {
		if err := ctx.Err(); err != nil {
			return TranscriptResult{}, err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			w.logger.Warn("whisper segment read failed", slogError(err))
			break
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}

	detected := wctx.Language()
	if detected == "" || detected == "auto" {
		detected = wctx.DetectedLanguage()
	}
	return TranscriptResult{Text: strings.Join(segments, " "), Language: detected}, nil
}
