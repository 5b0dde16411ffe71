package stt

import (
	"context"
	"fmt"
	"math"
)

// silenceRMS is the level below which the mock treats a window as silent.
const silenceRMS = 0.01

type mockRecognizer struct{}

// NewMockRecognizer returns a deterministic backend: silence yields no text,
// anything louder yields a placeholder describing the window.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, req Request) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if len(req.Samples) == 0 || req.SampleRate <= 0 {
		return TranscriptResult{}, nil
	}
	level := rms(req.Samples)
	if level < silenceRMS {
		return TranscriptResult{}, nil
	}
	seconds := float64(len(req.Samples)) / float64(req.SampleRate)
	return TranscriptResult{
		Text:     fmt.Sprintf("[speech %.1fs rms=%.2f]", seconds, level),
		Language: req.Params.Language,
	}, nil
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
