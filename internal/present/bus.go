package present

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-live/internal/bus"
	"github.com/loqalabs/loqa-live/internal/protocol"
	"github.com/loqalabs/loqa-live/internal/stream"
)

// BusPublisher broadcasts caption updates and the closing summary over NATS.
type BusPublisher struct {
	client  *bus.Client
	subject string
}

func NewBusPublisher(client *bus.Client, subject string) *BusPublisher {
	if subject == "" {
		subject = protocol.SubjectCaptionUpdate
	}
	return &BusPublisher{client: client, subject: subject}
}

func (p *BusPublisher) Publish(_ context.Context, u stream.Update) error {
	data, err := json.Marshal(toCaption(u))
	if err != nil {
		return fmt.Errorf("marshal caption: %w", err)
	}
	if err := p.client.Conn().Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish caption: %w", err)
	}
	return nil
}

func (p *BusPublisher) Close(ctx context.Context, s stream.Summary) error {
	data, err := json.Marshal(toSummary(s))
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := p.client.Conn().Publish(protocol.SubjectCaptionSummary, data); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	// FlushWithContext rejects contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		return p.client.Conn().FlushTimeout(writeWait)
	}
	return p.client.Conn().FlushWithContext(ctx)
}
