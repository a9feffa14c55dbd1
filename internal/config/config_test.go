package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scan.RunBudget != 300*time.Second {
		t.Fatalf("expected run budget 300s, got %s", cfg.Scan.RunBudget)
	}
	if cfg.Fetcher.Backend != FetcherScraperAPI || cfg.Fetcher.Timeout() != 290*time.Second {
		t.Fatalf("unexpected fetcher defaults: %+v", cfg.Fetcher)
	}
	if !cfg.Fetcher.ScraperAPI.Render || cfg.Fetcher.ScraperAPI.CountryCode != "gb" {
		t.Fatalf("expected render=true country_code=gb, got %+v", cfg.Fetcher.ScraperAPI)
	}
	if cfg.Analysis.Gemini.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected model %q", cfg.Analysis.Gemini.Model)
	}
	if cfg.Store.Backend != StoreMemory || cfg.Relay.Backend != RelayMemory {
		t.Fatalf("expected memory backends, got store=%q relay=%q", cfg.Store.Backend, cfg.Relay.Backend)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Fatalf("expected 24h interval, got %s", cfg.Scheduler.Interval)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  public_url: https://watch.example.com/
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
scan:
  run_budget: 120s
fetcher:
  backend: headless
  headless:
    max_parallel: 2
    navigation_timeout: 90s
analysis:
  input_format: Markdown
  max_input_bytes: 65536
store:
  backend: redis
  redis:
    url: redis://localhost:6379/0
    key_prefix: pw
relay:
  backend: qstash
  qstash:
    url: https://qstash.upstash.io/v2/publish/
    token: tok
scheduler:
  enabled: true
  interval: 6h
  fire_on_start: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("server/auth overrides not applied: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("logging overrides not applied: %+v", cfg.Logging)
	}
	if cfg.Fetcher.Timeout() != 90*time.Second || cfg.Fetcher.Headless.MaxParallel != 2 {
		t.Fatalf("headless overrides not applied: %+v", cfg.Fetcher.Headless)
	}
	if cfg.Analysis.InputFormat != "markdown" || cfg.Analysis.MaxInputBytes != 65536 {
		t.Fatalf("analysis overrides not applied: %+v", cfg.Analysis)
	}
	if cfg.Store.Redis.URL != "redis://localhost:6379/0" || cfg.Store.Redis.KeyPrefix != "pw" {
		t.Fatalf("redis overrides not applied: %+v", cfg.Store.Redis)
	}
	want := "https://watch.example.com/v1/scans/process"
	if cfg.Relay.QStash.Destination != want {
		t.Fatalf("expected destination %q, got %q", want, cfg.Relay.QStash.Destination)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Interval != 6*time.Hour || !cfg.Scheduler.FireOnStart {
		t.Fatalf("scheduler overrides not applied: %+v", cfg.Scheduler)
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("SCRAPERAPI_KEY", "scraper-legacy")
	t.Setenv("GEMINI_API_KEY", "gemini-legacy")
	t.Setenv("PORT", "3000")
	t.Setenv("PAGEWATCH_ANALYSIS_GEMINI_API_KEY", "gemini-new")
	t.Setenv("PAGEWATCH_STORE_LOCAL_BASE_DIR", "/tmp/pw")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetcher.ScraperAPI.APIKey != "scraper-legacy" {
		t.Fatalf("expected legacy scraper key, got %q", cfg.Fetcher.ScraperAPI.APIKey)
	}
	if cfg.Analysis.Gemini.APIKey != "gemini-new" {
		t.Fatalf("expected prefixed variable to win, got %q", cfg.Analysis.Gemini.APIKey)
	}
	if cfg.Server.Port != 3000 {
		t.Fatalf("expected PORT to apply, got %d", cfg.Server.Port)
	}
	if cfg.Store.Local.BaseDir != "/tmp/pw" {
		t.Fatalf("expected nested env override, got %q", cfg.Store.Local.BaseDir)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"fetch timeout not under budget": {
			mutate: func(c *Config) { c.Scan.RunBudget = 290 * time.Second },
			want:   "must be shorter than scan.run_budget",
		},
		"unknown fetcher": {
			mutate: func(c *Config) { c.Fetcher.Backend = "curl" },
			want:   "fetcher.backend",
		},
		"auth without key": {
			mutate: func(c *Config) { c.Auth.Enabled = true },
			want:   "auth.api_key",
		},
		"bad input format": {
			mutate: func(c *Config) { c.Analysis.InputFormat = "pdf" },
			want:   "analysis.input_format",
		},
		"postgres without dsn": {
			mutate: func(c *Config) { c.Store.Backend = StorePostgres },
			want:   "store.postgres.dsn",
		},
		"gcs without bucket": {
			mutate: func(c *Config) { c.Store.Backend = StoreGCS },
			want:   "store.gcs.bucket",
		},
		"dynamodb without table": {
			mutate: func(c *Config) { c.Store.Backend = StoreDynamoDB },
			want:   "store.dynamodb.table",
		},
		"unknown store": {
			mutate: func(c *Config) { c.Store.Backend = "etcd" },
			want:   "unknown store.backend",
		},
		"qstash without destination": {
			mutate: func(c *Config) {
				c.Relay.Backend = RelayQStash
				c.Relay.QStash.URL = "https://qstash.example"
				c.Relay.QStash.Token = "tok"
			},
			want: "relay.qstash.destination",
		},
		"pubsub worker without subscription": {
			mutate: func(c *Config) {
				c.Relay.Backend = RelayPubSub
				c.Relay.PubSub.ProjectID = "proj"
				c.Relay.PubSub.Topic = "scans"
			},
			want: "relay.pubsub.subscription",
		},
		"sqs without queue": {
			mutate: func(c *Config) { c.Relay.Backend = RelaySQS },
			want:   "relay.sqs.queue_url",
		},
		"scheduler without interval": {
			mutate: func(c *Config) {
				c.Scheduler.Enabled = true
				c.Scheduler.Interval = 0
			},
			want: "scheduler.interval",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
