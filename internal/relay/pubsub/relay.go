// Package pubsub relays scan requests over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// Config names the topic and subscription.
type Config struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// Publisher implements monitor.Relay on a Pub/Sub topic.
type Publisher struct {
	publisher *pubsub.Publisher
}

// NewPublisher wraps a topic publisher.
func NewPublisher(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Enqueue publishes req as JSON with the trace context in the attributes.
func (p *Publisher) Enqueue(ctx context.Context, req monitor.ScanRequest) (err error) {
	defer func() { metrics.ObserveRelay("pubsub", "enqueue", err) }()
	if p.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := encode(ctx, req)
	if err != nil {
		return err
	}
	if _, err := p.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
}

// Subscriber implements monitor.Consumer on a Pub/Sub subscription.
type Subscriber struct {
	subscriber *pubsub.Subscriber
	logger     *zap.Logger
}

// NewSubscriber wraps a subscription, limiting it to one outstanding message
// so scans never overlap.
func NewSubscriber(subscriber *pubsub.Subscriber, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subscriber != nil {
		subscriber.ReceiveSettings.MaxOutstandingMessages = 1
		subscriber.ReceiveSettings.NumGoroutines = 1
	}
	return &Subscriber{subscriber: subscriber, logger: logger}
}

// Consume receives messages until ctx ends.
func (s *Subscriber) Consume(ctx context.Context, handler monitor.Handler) error {
	if s.subscriber == nil {
		return fmt.Errorf("pubsub subscriber is not configured")
	}
	err := s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handle(ctx, msg.ID, msg.Data, msg.Attributes, handler) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// handle runs handler for one message and reports whether to ack it.
// Malformed payloads are acked so they are not redelivered forever.
func (s *Subscriber) handle(
	ctx context.Context,
	id string,
	data []byte,
	attrs map[string]string,
	handler monitor.Handler,
) bool {
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier{attrs: attrs})
	req, err := monitor.DecodeScanRequest(data)
	if err != nil {
		s.logger.Error("dropping malformed scan request", zap.String("message_id", id), zap.Error(err))
		metrics.ObserveRelay("pubsub", "deliver", err)
		return true
	}
	err = handler(ctx, req)
	metrics.ObserveRelay("pubsub", "deliver", err)
	if err != nil {
		s.logger.Error("scan request failed; nacking", zap.String("message_id", id), zap.Error(err))
		return false
	}
	return true
}

func encode(ctx context.Context, req monitor.ScanRequest) (*pubsub.Message, error) {
	if req.URLs == nil {
		req.URLs = []string{}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal scan request: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: msg.Attributes})
	if req.RequestID != "" {
		msg.Attributes["request_id"] = req.RequestID
	}
	return msg, nil
}

// carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	if c.attrs != nil {
		c.attrs[key] = value
	}
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
