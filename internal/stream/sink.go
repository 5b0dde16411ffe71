package stream

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-live/internal/translate"
)

// Update is emitted for every window that changed the transcript.
type Update struct {
	Session     string          `json:"session"`
	WindowIndex int             `json:"window_index"`
	WindowStart float64         `json:"window_start_seconds"`
	Delta       string          `json:"delta"`
	Transcript  string          `json:"transcript,omitempty"` // full text so far, context-biased policy only
	Language    string          `json:"language,omitempty"`
	Pair        *translate.Pair `json:"pair,omitempty"`
	Latency     time.Duration   `json:"latency"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Summary is handed to sinks once the pipeline stops.
type Summary struct {
	Session           string `json:"session"`
	Windows           int64  `json:"windows"`
	Emitted           int64  `json:"emitted"`
	InferenceFaults   int64  `json:"inference_faults"`
	TranslationFaults int64  `json:"translation_faults"`
	DroppedSamples    int64  `json:"dropped_samples"`
	Transcript        string `json:"transcript,omitempty"`
}

// Sink receives transcript updates. Publish is called from the pipeline goroutine only.
type Sink interface {
	Publish(ctx context.Context, u Update) error
	Close(ctx context.Context, s Summary) error
}

// EventRecorder persists diagnostic events. Implementations must not block for long.
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType string, payload any)
}

type discardSink struct{}

func (discardSink) Publish(context.Context, Update) error { return nil }
func (discardSink) Close(context.Context, Summary) error  { return nil }

type discardEvents struct{}

func (discardEvents) RecordEvent(context.Context, string, any) {}

// Diagnostic event types.
const (
	EventSessionStarted   = "session.started"
	EventSessionStopped   = "session.stopped"
	EventInferenceFault   = "inference.fault"
	EventTranslationFault = "translation.fault"
	EventCaptureFault     = "capture.fault"
	EventBackpressure     = "backpressure"
)
