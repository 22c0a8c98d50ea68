package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/LinkVault/internal/app/model"
	infraPrometheus "github.com/sifan077/LinkVault/internal/infra/prometheus"
	"go.uber.org/zap"
)

// EventRedeemer is the part of RedemptionRecorder the consumer needs.
type EventRedeemer interface {
	RecordObserved(ctx context.Context, event model.RedemptionEvent) (*RedemptionResult, error)
}

// recordTimeout bounds one message, so a stalled store cannot wedge the fetch loop or Stop.
const recordTimeout = 10 * time.Second

type disposition int

const (
	dispositionAck disposition = iota
	dispositionNak
	dispositionTerm
)

// RedemptionConsumer pulls observed joins from JetStream and records them.
type RedemptionConsumer struct {
	js       nats.JetStreamContext
	logger   *zap.Logger
	redeemer EventRedeemer
	metrics  *infraPrometheus.Metrics
	timeout  time.Duration
	stopChan chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// NewRedemptionConsumer creates a new redemption event consumer.
func NewRedemptionConsumer(js nats.JetStreamContext, logger *zap.Logger, redeemer EventRedeemer, metrics *infraPrometheus.Metrics) *RedemptionConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedemptionConsumer{
		js:       js,
		logger:   logger,
		redeemer: redeemer,
		metrics:  metrics,
		timeout:  recordTimeout,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start declares the stream and durable consumer, then begins consuming.
func (c *RedemptionConsumer) Start() error {
	// Create stream if not exists
	_, err := c.js.StreamInfo(model.RedemptionStreamName)
	if err != nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     model.RedemptionStreamName,
			Subjects: []string{model.RedemptionStreamSubject},
			MaxBytes: model.RedemptionStreamMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	// Create consumer if not exists
	_, err = c.js.ConsumerInfo(model.RedemptionStreamName, model.RedemptionConsumerName)
	if err != nil {
		_, err = c.js.AddConsumer(model.RedemptionStreamName, &nats.ConsumerConfig{
			Durable:    model.RedemptionConsumerName,
			AckPolicy:  nats.AckExplicitPolicy,
			MaxDeliver: 10,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.RedemptionStreamSubject, model.RedemptionConsumerName,
		nats.BindStream(model.RedemptionStreamName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.started.Store(true)
	go c.consume(sub)
	return nil
}

// Stop stops fetching and waits for the batch in hand to be processed.
func (c *RedemptionConsumer) Stop() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	if c.started.Load() {
		<-c.done
	}
}

func (c *RedemptionConsumer) consume(sub *nats.Subscription) {
	defer close(c.done)
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("failed to unsubscribe redemption consumer", zap.Error(err))
		}
	}()

	ctx := context.Background()
	for {
		select {
		case <-c.stopChan:
			c.logger.Info("redemption consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			c.logger.Warn("redemption subscription closed", zap.Error(err))
			return
		}
		if err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			switch c.process(ctx, msg.Data) {
			case dispositionAck:
				_ = msg.Ack()
			case dispositionTerm:
				_ = msg.Term()
			default:
				_ = msg.Nak()
			}
		}
	}
}

// process decides what happens to one message. Expected lifecycle outcomes (unknown,
// expired or used tokens, redelivered events) are acknowledged; only store failures
// and timeouts are redelivered.
func (c *RedemptionConsumer) process(ctx context.Context, data []byte) disposition {
	var event model.RedemptionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Error("failed to unmarshal redemption event", zap.Error(err))
		c.metrics.RedemptionEvent("malformed")
		return dispositionTerm
	}
	if strings.TrimSpace(event.Token) == "" {
		c.logger.Warn("redemption event without token", zap.String("id", event.ID))
		c.metrics.RedemptionEvent("malformed")
		return dispositionTerm
	}

	recordCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.redeemer.RecordObserved(recordCtx, event)
	switch {
	case err == nil:
		c.metrics.RedemptionEvent("recorded")
		return dispositionAck
	case errors.Is(err, ErrDuplicateRedemption):
		c.logger.Debug("redemption event already recorded", zap.String("id", event.ID))
		c.metrics.RedemptionEvent("duplicate")
		return dispositionAck
	case errors.Is(err, ErrUnknownToken), errors.Is(err, ErrLinkNotRedeemable):
		c.logger.Info("redemption event rejected",
			zap.String("id", event.ID),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
		c.metrics.RedemptionEvent("rejected")
		return dispositionAck
	default:
		c.logger.Error("failed to record redemption event",
			zap.String("id", event.ID),
			zap.Error(err),
		)
		c.metrics.RedemptionEvent("retry")
		return dispositionNak
	}
}
