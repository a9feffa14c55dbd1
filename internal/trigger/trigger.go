// Package trigger starts scheduled scans by relaying the managed URL list.
package trigger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// Outcome messages returned to callers.
const (
	MessageNoURLs = "No URLs to scan."
	MessageQueued = "Scan successfully queued."
)

// Result describes what a firing did.
type Result struct {
	Queued    bool   `json:"queued"`
	URLs      int    `json:"urls"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

// Trigger loads the URL list and enqueues one scan request for it.
type Trigger struct {
	store  monitor.Store
	relay  monitor.Relay
	ids    monitor.IDGenerator
	clock  monitor.Clock
	source string
	logger *zap.Logger
}

// New constructs a Trigger. source labels metrics, e.g. "cron" or "scheduler".
func New(
	store monitor.Store,
	relay monitor.Relay,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	source string,
	logger *zap.Logger,
) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == "" {
		source = "cron"
	}
	return &Trigger{store: store, relay: relay, ids: ids, clock: clock, source: source, logger: logger}
}

// WithSource returns a copy of t that reports metrics under source.
func (t *Trigger) WithSource(source string) *Trigger {
	clone := *t
	clone.source = source
	return &clone
}

// Fire loads monitoring-urls and relays them. An empty list is not an error.
func (t *Trigger) Fire(ctx context.Context) (res Result, err error) {
	defer func() { metrics.ObserveTrigger(t.source, err) }()

	urls, err := monitor.LoadURLs(ctx, t.store)
	if err != nil {
		return Result{}, fmt.Errorf("load url list: %w", err)
	}
	if len(urls) == 0 {
		t.logger.Info("no urls to scan", zap.String("source", t.source))
		return Result{Message: MessageNoURLs}, nil
	}

	req := monitor.ScanRequest{URLs: urls}
	if t.ids != nil {
		id, err := t.ids.NewID()
		if err != nil {
			return Result{}, err
		}
		req.RequestID = id
	}
	if t.clock != nil {
		req.Stamp(t.clock.Now())
	}
	if err := t.relay.Enqueue(ctx, req); err != nil {
		return Result{}, fmt.Errorf("failed to queue scan: %w", err)
	}
	t.logger.Info("scan queued",
		zap.String("source", t.source),
		zap.String("request_id", req.RequestID),
		zap.Int("urls", len(urls)),
	)
	return Result{Queued: true, URLs: len(urls), RequestID: req.RequestID, Message: MessageQueued}, nil
}
