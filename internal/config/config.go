// Package config loads and validates pagewatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pagewatch/internal/analysis/gemini"
	"github.com/JakeFAU/pagewatch/internal/fetcher/headless"
	"github.com/JakeFAU/pagewatch/internal/fetcher/scraperapi"
	"github.com/JakeFAU/pagewatch/internal/policy/ratelimit"
	pubsubrelay "github.com/JakeFAU/pagewatch/internal/relay/pubsub"
	"github.com/JakeFAU/pagewatch/internal/relay/qstash"
	sqsrelay "github.com/JakeFAU/pagewatch/internal/relay/sqs"
	dynamostore "github.com/JakeFAU/pagewatch/internal/store/dynamodb"
	"github.com/JakeFAU/pagewatch/internal/store/gcs"
	"github.com/JakeFAU/pagewatch/internal/store/local"
	"github.com/JakeFAU/pagewatch/internal/store/postgres"
	redisstore "github.com/JakeFAU/pagewatch/internal/store/redis"
)

// Backend names accepted by the selector keys.
const (
	FetcherScraperAPI = "scraperapi"
	FetcherHeadless   = "headless"

	StoreMemory   = "memory"
	StoreLocal    = "local"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreGCS      = "gcs"
	StoreDynamoDB = "dynamodb"

	RelayMemory = "memory"
	RelayQStash = "qstash"
	RelayPubSub = "pubsub"
	RelaySQS    = "sqs"
)

// ProcessPath is the route the relay delivers scan requests to.
const ProcessPath = "/v1/scans/process"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Store     StoreConfig     `mapstructure:"store"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	PublicURL      string        `mapstructure:"public_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScanConfig bounds a scan run.
type ScanConfig struct {
	RunBudget time.Duration `mapstructure:"run_budget"`
}

// FetcherConfig selects and configures the snapshot fetcher.
type FetcherConfig struct {
	Backend    string            `mapstructure:"backend"`
	ScraperAPI scraperapi.Config `mapstructure:"scraperapi"`
	Headless   headless.Config   `mapstructure:"headless"`
	RateLimit  ratelimit.Config  `mapstructure:"rate_limit"`
}

// Timeout returns the per-fetch timeout of the selected backend.
func (f FetcherConfig) Timeout() time.Duration {
	if f.Backend == FetcherHeadless {
		return f.Headless.NavigationTimeout
	}
	return f.ScraperAPI.Timeout
}

// AnalysisConfig configures change analysis.
type AnalysisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	InputFormat   string        `mapstructure:"input_format"`
	MaxInputBytes int           `mapstructure:"max_input_bytes"`
	Gemini        gemini.Config `mapstructure:"gemini"`
}

// StoreConfig selects and configures the key-value store.
type StoreConfig struct {
	Backend  string             `mapstructure:"backend"`
	Local    local.Config       `mapstructure:"local"`
	Redis    redisstore.Config  `mapstructure:"redis"`
	Postgres postgres.Config    `mapstructure:"postgres"`
	GCS      gcs.Config         `mapstructure:"gcs"`
	DynamoDB dynamostore.Config `mapstructure:"dynamodb"`
}

// RelayConfig selects and configures the queue relay.
type RelayConfig struct {
	Backend  string             `mapstructure:"backend"`
	Capacity int                `mapstructure:"capacity"`
	QStash   qstash.Config      `mapstructure:"qstash"`
	PubSub   pubsubrelay.Config `mapstructure:"pubsub"`
	SQS      sqsrelay.Config    `mapstructure:"sqs"`
}

// WorkerConfig toggles the in-process relay consumer.
type WorkerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SchedulerConfig controls periodic triggering.
type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	FireOnStart bool          `mapstructure:"fire_on_start"`
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	GCPProjectID string  `mapstructure:"gcp_project_id"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scan.run_budget", "300s")

	v.SetDefault("fetcher.backend", FetcherScraperAPI)
	v.SetDefault("fetcher.scraperapi.api_key", "")
	v.SetDefault("fetcher.scraperapi.endpoint", scraperapi.DefaultEndpoint)
	v.SetDefault("fetcher.scraperapi.render", true)
	v.SetDefault("fetcher.scraperapi.country_code", "gb")
	v.SetDefault("fetcher.scraperapi.timeout", scraperapi.DefaultTimeout.String())
	v.SetDefault("fetcher.scraperapi.user_agent", "")
	v.SetDefault("fetcher.scraperapi.max_body_size", 10*1024*1024)
	v.SetDefault("fetcher.headless.max_parallel", 1)
	v.SetDefault("fetcher.headless.user_agent", "")
	v.SetDefault("fetcher.headless.navigation_timeout", "290s")
	v.SetDefault("fetcher.headless.settle_delay", "2s")
	v.SetDefault("fetcher.headless.exec_path", "")
	v.SetDefault("fetcher.rate_limit.rps", 0)
	v.SetDefault("fetcher.rate_limit.burst", 1)

	v.SetDefault("analysis.enabled", true)
	v.SetDefault("analysis.input_format", "html")
	v.SetDefault("analysis.max_input_bytes", 0)
	v.SetDefault("analysis.gemini.api_key", "")
	v.SetDefault("analysis.gemini.model", gemini.DefaultModel)
	v.SetDefault("analysis.gemini.base_url", "")
	v.SetDefault("analysis.gemini.timeout", "60s")
	v.SetDefault("analysis.gemini.temperature", 0.2)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.local.base_dir", "data/store")
	v.SetDefault("store.redis.url", "")
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "kv_entries")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", "30m")
	v.SetDefault("store.postgres.auto_migrate", true)
	v.SetDefault("store.gcs.bucket", "")
	v.SetDefault("store.gcs.prefix", "pagewatch")
	v.SetDefault("store.dynamodb.table", "")
	v.SetDefault("store.dynamodb.region", "")
	v.SetDefault("store.dynamodb.endpoint", "")

	v.SetDefault("relay.backend", RelayMemory)
	v.SetDefault("relay.capacity", 16)
	v.SetDefault("relay.qstash.url", "")
	v.SetDefault("relay.qstash.token", "")
	v.SetDefault("relay.qstash.destination", "")
	v.SetDefault("relay.qstash.timeout", "10s")
	v.SetDefault("relay.qstash.retries", 0)
	v.SetDefault("relay.pubsub.project_id", "")
	v.SetDefault("relay.pubsub.topic", "")
	v.SetDefault("relay.pubsub.subscription", "")
	v.SetDefault("relay.sqs.queue_url", "")
	v.SetDefault("relay.sqs.region", "")
	v.SetDefault("relay.sqs.endpoint", "")
	v.SetDefault("relay.sqs.wait_time_seconds", 20)
	v.SetDefault("relay.sqs.visibility_timeout", 330)
	v.SetDefault("relay.sqs.error_backoff", "5s")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.fire_on_start", false)

	v.SetDefault("telemetry.service_name", "pagewatch")
	v.SetDefault("telemetry.gcp_project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// legacyEnv maps keys to the variable names used by the original deployment.
// The PAGEWATCH_ form is listed first so it wins when both are set.
var legacyEnv = map[string]string{
	"fetcher.scraperapi.api_key": "SCRAPERAPI_KEY",
	"analysis.gemini.api_key":    "GEMINI_API_KEY",
	"relay.qstash.url":           "QSTASH_URL",
	"relay.qstash.token":         "QSTASH_TOKEN",
	"store.redis.url":            "KV_URL",
	"server.port":                "PORT",
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		primary := "PAGEWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, primary, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Fetcher.Backend = strings.ToLower(strings.TrimSpace(c.Fetcher.Backend))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Relay.Backend = strings.ToLower(strings.TrimSpace(c.Relay.Backend))
	c.Analysis.InputFormat = strings.ToLower(strings.TrimSpace(c.Analysis.InputFormat))
	if c.Relay.QStash.Destination == "" && c.Server.PublicURL != "" {
		c.Relay.QStash.Destination = strings.TrimRight(c.Server.PublicURL, "/") + ProcessPath
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scan.RunBudget <= 0 {
		return fmt.Errorf("scan.run_budget must be > 0")
	}
	if err := c.validateFetcher(); err != nil {
		return err
	}
	switch c.Analysis.InputFormat {
	case "", "html", "markdown":
	default:
		return fmt.Errorf("analysis.input_format must be html or markdown, got %q", c.Analysis.InputFormat)
	}
	if c.Analysis.MaxInputBytes < 0 {
		return fmt.Errorf("analysis.max_input_bytes must be >= 0")
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be > 0 when the scheduler is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

func (c Config) validateFetcher() error {
	switch c.Fetcher.Backend {
	case FetcherScraperAPI:
	case FetcherHeadless:
		if c.Fetcher.Headless.MaxParallel <= 0 {
			return fmt.Errorf("fetcher.headless.max_parallel must be > 0")
		}
	default:
		return fmt.Errorf("fetcher.backend must be %s or %s, got %q", FetcherScraperAPI, FetcherHeadless, c.Fetcher.Backend)
	}
	timeout := c.Fetcher.Timeout()
	if timeout <= 0 {
		return fmt.Errorf("fetcher timeout must be > 0")
	}
	if timeout >= c.Scan.RunBudget {
		return fmt.Errorf("fetcher timeout %s must be shorter than scan.run_budget %s", timeout, c.Scan.RunBudget)
	}
	return nil
}

func (c Config) validateStore() error {
	s := c.Store
	switch s.Backend {
	case StoreMemory:
	case StoreLocal:
		if s.Local.BaseDir == "" {
			return fmt.Errorf("store.local.base_dir is required")
		}
	case StoreRedis:
		if s.Redis.URL == "" && s.Redis.Addr == "" {
			return fmt.Errorf("store.redis.url or store.redis.addr is required")
		}
	case StorePostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	case StoreGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("store.gcs.bucket is required")
		}
	case StoreDynamoDB:
		if s.DynamoDB.Table == "" {
			return fmt.Errorf("store.dynamodb.table is required")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", s.Backend)
	}
	return nil
}

func (c Config) validateRelay() error {
	r := c.Relay
	switch r.Backend {
	case RelayMemory:
		if r.Capacity <= 0 {
			return fmt.Errorf("relay.capacity must be > 0")
		}
	case RelayQStash:
		if r.QStash.URL == "" || r.QStash.Token == "" {
			return fmt.Errorf("relay.qstash.url and relay.qstash.token are required")
		}
		if r.QStash.Destination == "" {
			return fmt.Errorf("relay.qstash.destination or server.public_url is required")
		}
	case RelayPubSub:
		if r.PubSub.ProjectID == "" || r.PubSub.Topic == "" {
			return fmt.Errorf("relay.pubsub.project_id and relay.pubsub.topic are required")
		}
		if c.Worker.Enabled && r.PubSub.Subscription == "" {
			return fmt.Errorf("relay.pubsub.subscription is required when the worker is enabled")
		}
	case RelaySQS:
		if r.SQS.QueueURL == "" {
			return fmt.Errorf("relay.sqs.queue_url is required")
		}
	default:
		return fmt.Errorf("unknown relay.backend %q", r.Backend)
	}
	return nil
}
