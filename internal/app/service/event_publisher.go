package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/LinkVault/internal/app/model"
	"go.uber.org/zap"
)

const eventPublishTimeout = 2 * time.Second

// EventPublisher announces link lifecycle changes to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event model.LinkEvent) error
}

// JetStreamPublisher publishes link events to NATS JetStream.
type JetStreamPublisher struct {
	js nats.JetStreamContext
}

// NewJetStreamPublisher creates a new link event publisher.
func NewJetStreamPublisher(js nats.JetStreamContext) *JetStreamPublisher {
	return &JetStreamPublisher{js: js}
}

// EnsureStream creates the link event stream if it does not exist yet.
func (p *JetStreamPublisher) EnsureStream() error {
	if _, err := p.js.StreamInfo(model.LinkEventStreamName); err == nil {
		return nil
	}
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:     model.LinkEventStreamName,
		Subjects: []string{model.LinkEventSubjectPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create link event stream: %w", err)
	}
	return nil
}

// Publish publishes the event on links.events.<type>. The event id doubles as the
// JetStream dedupe id.
func (p *JetStreamPublisher) Publish(ctx context.Context, event model.LinkEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := model.LinkEventSubjectPrefix + "." + event.Type
	_, err = p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(event.ID))
	return err
}

func newLinkEvent(kind string, link *model.Link, userID string, at time.Time) model.LinkEvent {
	state := link.State
	if kind == model.LinkEventPurged {
		state = model.LinkStatePurged
	}
	return model.LinkEvent{
		ID:         uuid.New().String(),
		Type:       kind,
		LinkID:     link.ID,
		ResourceID: link.ResourceID,
		UserID:     userID,
		State:      state,
		Timestamp:  at,
	}
}

// publishEvent is fire-and-report: a lost event never fails the lifecycle operation.
func publishEvent(ctx context.Context, events EventPublisher, logger *zap.Logger, event model.LinkEvent) {
	if events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := events.Publish(pubCtx, event); err != nil {
		logger.Warn("failed to publish link event",
			zap.String("type", event.Type),
			zap.String("link_id", event.LinkID),
			zap.Error(err),
		)
	}
}
