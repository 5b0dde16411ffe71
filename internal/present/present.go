// Package present delivers transcript updates to the console, the bus and
// websocket viewers.
package present

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/loqa-live/internal/protocol"
	"github.com/loqalabs/loqa-live/internal/stream"
)

// Multi fans updates out to several sinks. A failing sink does not stop the others.
type Multi []stream.Sink

func (m Multi) Publish(ctx context.Context, u stream.Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close(ctx context.Context, sum stream.Summary) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx, sum); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func toCaption(u stream.Update) protocol.CaptionUpdate {
	msg := protocol.CaptionUpdate{
		SessionID:   u.Session,
		WindowIndex: u.WindowIndex,
		WindowStart: u.WindowStart,
		Text:        u.Delta,
		Transcript:  u.Transcript,
		Language:    u.Language,
		LatencyMS:   u.Latency.Milliseconds(),
		Timestamp:   u.Timestamp,
	}
	if u.Pair != nil {
		msg.Primary = u.Pair.Primary
		msg.Secondary = u.Pair.Secondary
	}
	return msg
}

func toSummary(s stream.Summary) protocol.CaptionSummary {
	return protocol.CaptionSummary{
		SessionID:         s.Session,
		Windows:           s.Windows,
		Emitted:           s.Emitted,
		InferenceFaults:   s.InferenceFaults,
		TranslationFaults: s.TranslationFaults,
		DroppedSamples:    s.DroppedSamples,
		Transcript:        s.Transcript,
		Timestamp:         time.Now().UTC(),
	}
}
