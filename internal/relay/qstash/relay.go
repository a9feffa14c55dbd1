// Package qstash relays scan requests through Upstash QStash, which delivers
// them to the process endpoint over HTTP.
package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// Config holds the publish endpoint, token and delivery destination.
type Config struct {
	// URL is the QStash publish endpoint, e.g. https://qstash.upstash.io/v2/publish/.
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	Destination string        `mapstructure:"destination"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	// APIKey, when set, is forwarded to the destination as X-API-Key so
	// deliveries pass the API's key check.
	APIKey string `mapstructure:"-"`
}

// Relay implements monitor.Relay. It has no consumer side.
type Relay struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and builds a Relay. client may be nil.
func New(cfg Config, client *http.Client) (*Relay, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("relay.qstash.url is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("relay.qstash.token is required")
	}
	if strings.TrimSpace(cfg.Destination) == "" {
		return nil, fmt.Errorf("relay.qstash.destination is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Relay{cfg: cfg, client: client}, nil
}

type publishBody struct {
	URLs      []string `json:"urls"`
	RequestID string   `json:"requestId,omitempty"`
}

// Enqueue publishes req for delivery to the destination.
func (r *Relay) Enqueue(ctx context.Context, req monitor.ScanRequest) (err error) {
	defer func() { metrics.ObserveRelay("qstash", "enqueue", err) }()

	urls := req.URLs
	if urls == nil {
		urls = []string{}
	}
	body, err := json.Marshal(publishBody{URLs: urls, RequestID: req.RequestID})
	if err != nil {
		return fmt.Errorf("marshal scan request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build qstash request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Upstash-Url", r.cfg.Destination)
	httpReq.Header.Set("Upstash-Forward-Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		httpReq.Header.Set("Upstash-Forward-X-API-Key", r.cfg.APIKey)
	}
	if r.cfg.Retries > 0 {
		httpReq.Header.Set("Upstash-Retries", fmt.Sprint(r.cfg.Retries))
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("qstash publish: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("qstash publish failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
