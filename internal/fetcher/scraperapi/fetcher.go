// Package scraperapi fetches rendered pages through the ScraperAPI rendering
// service using a colly collector.
package scraperapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// ErrMissingAPIKey is returned for every fetch when no API key is configured.
var ErrMissingAPIKey = errors.New("SCRAPERAPI_KEY is not set.") //nolint:revive,staticcheck // surfaced verbatim in reports

const (
	// DefaultEndpoint is the public ScraperAPI endpoint.
	DefaultEndpoint = "http://api.scraperapi.com"
	// DefaultTimeout stays under the default run budget of 300s.
	DefaultTimeout = 290 * time.Second
	defaultMaxBody = 20 << 20
)

// Config controls the rendering request.
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	Render      bool          `mapstructure:"render"`
	CountryCode string        `mapstructure:"country_code"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	MaxBodySize int           `mapstructure:"max_body_size"`
}

// Fetcher implements monitor.Fetcher.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Zero-valued fields fall back to the defaults.
func New(cfg Config) *Fetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBody
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch requests target through the rendering service and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, target string) (string, error) {
	if strings.TrimSpace(f.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}
	requestURL, err := f.requestURL(target)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		body     string
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	configureCollectorHooks(collector, &body, &fetchErr)

	if err := runCollector(ctx, collector, requestURL, &fetchErr); err != nil {
		return "", err
	}
	return body, nil
}

func (f *Fetcher) requestURL(target string) (string, error) {
	endpoint, err := url.Parse(f.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse scraping endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("api_key", f.cfg.APIKey)
	q.Set("url", target)
	if f.cfg.Render {
		q.Set("render", "true")
	}
	if f.cfg.CountryCode != "" {
		q.Set("country_code", f.cfg.CountryCode)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func configureCollectorHooks(hooks collectorHooks, body *string, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = string(r.Body)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("Scraping API error: %d", r.StatusCode)
			return
		}
		*fetchErr = redact(err)
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, requestURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(requestURL)
	}()

	select {
	case <-ctx.Done():
		// The collector shares ctx, so Visit returns once the request is torn down.
		<-done
		return fmt.Errorf("scraping request aborted: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return redact(err)
		}
		return nil
	}
}

// redact drops the request URL from transport errors; it carries the API key.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
