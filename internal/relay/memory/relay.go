// Package memory provides an in-process relay for single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// ErrClosed is returned once the relay has been closed.
var ErrClosed = errors.New("relay closed")

// Relay is a bounded in-memory queue with context-aware operations.
type Relay struct {
	ch        chan monitor.ScanRequest
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// New constructs a relay with the provided capacity.
func New(capacity int, logger *zap.Logger) *Relay {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		ch:     make(chan monitor.ScanRequest, capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Enqueue pushes a request or returns when the context ends.
func (r *Relay) Enqueue(ctx context.Context, req monitor.ScanRequest) (err error) {
	defer func() { metrics.ObserveRelay("memory", "enqueue", err) }()
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-r.done:
		return ErrClosed
	case r.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (r *Relay) Dequeue(ctx context.Context) (monitor.ScanRequest, error) {
	select {
	case <-ctx.Done():
		return monitor.ScanRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-r.done:
		return monitor.ScanRequest{}, ErrClosed
	case req := <-r.ch:
		return req, nil
	}
}

// Consume hands requests to handler one at a time until ctx ends or the
// relay is closed. Handler errors are logged; there is no redelivery.
func (r *Relay) Consume(ctx context.Context, handler monitor.Handler) error {
	for {
		req, err := r.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		err = handler(ctx, req)
		metrics.ObserveRelay("memory", "deliver", err)
		if err != nil {
			r.logger.Error("scan request failed", zap.String("request_id", req.RequestID), zap.Error(err))
		}
	}
}

// Len reports the number of queued requests.
func (r *Relay) Len() int {
	return len(r.ch)
}

// Close stops the relay. Queued requests are dropped.
func (r *Relay) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}
