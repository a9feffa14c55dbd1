// Package sqs relays scan requests over an Amazon SQS queue.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// Config names the queue and polling behavior.
type Config struct {
	QueueURL          string        `mapstructure:"queue_url"`
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	WaitTimeSeconds   int32         `mapstructure:"wait_time_seconds"`
	VisibilityTimeout int32         `mapstructure:"visibility_timeout"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
}

// API is the subset of the SQS client used by Relay.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Relay implements monitor.Relay and monitor.Consumer.
type Relay struct {
	client API
	cfg    Config
	logger *zap.Logger
}

// New wraps client for the configured queue.
func New(client API, cfg Config, logger *zap.Logger) (*Relay, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client is required")
	}
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, fmt.Errorf("relay.sqs.queue_url is required")
	}
	if cfg.WaitTimeSeconds <= 0 || cfg.WaitTimeSeconds > 20 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, cfg: cfg, logger: logger}, nil
}

// Enqueue sends req as a JSON message body.
func (r *Relay) Enqueue(ctx context.Context, req monitor.ScanRequest) (err error) {
	defer func() { metrics.ObserveRelay("sqs", "enqueue", err) }()
	if req.URLs == nil {
		req.URLs = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	_, err = r.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.cfg.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", r.cfg.QueueURL, err)
	}
	return nil
}

// Consume long-polls the queue and hands each message to handler. Messages
// are deleted when the handler succeeds or the payload is malformed; failed
// messages reappear after the visibility timeout.
func (r *Relay) Consume(ctx context.Context, handler monitor.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := r.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(r.cfg.QueueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     r.cfg.WaitTimeSeconds,
			VisibilityTimeout:   r.cfg.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("failed to receive messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.ErrorBackoff):
			}
			continue
		}
		for _, msg := range out.Messages {
			r.handle(ctx, msg, handler)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg types.Message, handler monitor.Handler) {
	id := aws.ToString(msg.MessageId)
	req, err := monitor.DecodeScanRequest([]byte(aws.ToString(msg.Body)))
	if err != nil {
		r.logger.Error("dropping malformed scan request", zap.String("message_id", id), zap.Error(err))
		metrics.ObserveRelay("sqs", "deliver", err)
		r.delete(ctx, msg)
		return
	}
	err = handler(ctx, req)
	metrics.ObserveRelay("sqs", "deliver", err)
	if err != nil {
		r.logger.Error("scan request failed; leaving for redelivery", zap.String("message_id", id), zap.Error(err))
		return
	}
	r.delete(ctx, msg)
}

func (r *Relay) delete(ctx context.Context, msg types.Message) {
	_, err := r.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		r.logger.Warn("failed to delete message", zap.String("message_id", aws.ToString(msg.MessageId)), zap.Error(err))
	}
}
