// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/analysis/condense"
	"github.com/JakeFAU/pagewatch/internal/analysis/gemini"
	"github.com/JakeFAU/pagewatch/internal/api"
	"github.com/JakeFAU/pagewatch/internal/clock/system"
	"github.com/JakeFAU/pagewatch/internal/config"
	headlessfetcher "github.com/JakeFAU/pagewatch/internal/fetcher/headless"
	"github.com/JakeFAU/pagewatch/internal/fetcher/scraperapi"
	"github.com/JakeFAU/pagewatch/internal/hash/sha256"
	"github.com/JakeFAU/pagewatch/internal/id/uuid"
	"github.com/JakeFAU/pagewatch/internal/logging"
	"github.com/JakeFAU/pagewatch/internal/monitor"
	"github.com/JakeFAU/pagewatch/internal/policy/ratelimit"
	memrelay "github.com/JakeFAU/pagewatch/internal/relay/memory"
	pubsubrelay "github.com/JakeFAU/pagewatch/internal/relay/pubsub"
	"github.com/JakeFAU/pagewatch/internal/relay/qstash"
	sqsrelay "github.com/JakeFAU/pagewatch/internal/relay/sqs"
	"github.com/JakeFAU/pagewatch/internal/scan"
	dynamostore "github.com/JakeFAU/pagewatch/internal/store/dynamodb"
	gcsstore "github.com/JakeFAU/pagewatch/internal/store/gcs"
	localstore "github.com/JakeFAU/pagewatch/internal/store/local"
	memstore "github.com/JakeFAU/pagewatch/internal/store/memory"
	pgstore "github.com/JakeFAU/pagewatch/internal/store/postgres"
	redisstore "github.com/JakeFAU/pagewatch/internal/store/redis"
	"github.com/JakeFAU/pagewatch/internal/telemetry"
	"github.com/JakeFAU/pagewatch/internal/trigger"
	"github.com/JakeFAU/pagewatch/internal/worker"
)

// Version is reported as the service version in traces.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	store           monitor.Store
	scanner         *scan.Scanner
	relay           monitor.Relay
	consumer        monitor.Consumer
	trigger         *trigger.Trigger
	worker          *worker.Worker
	scheduler       *trigger.Scheduler
	apiServer       *api.Server
	headless        *headlessfetcher.Fetcher
	memRelay        *memrelay.Relay
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsubrelay.Publisher
	tracerShutdown  func(context.Context) error
	closeOnce       sync.Once
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the configured key-value store.
func (a *App) Store() monitor.Store { return a.store }

// Runner returns the scan orchestrator.
func (a *App) Runner() worker.Runner { return a.scanner }

// Firer returns the trigger that relays the managed URL list.
func (a *App) Firer() trigger.Firer { return a.trigger }

// RunBudget returns the configured bound for one scan run.
func (a *App) RunBudget() time.Duration { return a.cfg.Scan.RunBudget }

// Run serves HTTP and, when configured, runs the worker and scheduler. It
// blocks until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if a.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.worker.Run(ctx); err != nil {
				a.logger.Error("worker stopped with error", zap.Error(err))
				stop()
			}
		}()
	}
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	return a.Close(shutdownCtx)
}

// Close releases clients and flushes telemetry. It is safe to call more
// than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.memRelay != nil {
		a.memRelay.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("fetcher", cfg.Fetcher.Backend),
		zap.String("store", cfg.Store.Backend),
		zap.String("relay", cfg.Relay.Backend),
		zap.Duration("run_budget", cfg.Scan.RunBudget),
	)

	tp, err := telemetry.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := build(ctx, app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, app *App) error {
	cfg := app.cfg
	var err error

	app.store, err = setupStore(ctx, app)
	if err != nil {
		return err
	}
	fetcher, err := setupFetcher(app)
	if err != nil {
		return err
	}
	analyzer, err := setupAnalyzer(ctx, app)
	if err != nil {
		return err
	}

	clock := system.New()
	ids := uuid.New()
	app.scanner = scan.New(app.store, fetcher, analyzer, sha256.New(), clock, app.logger.Named("scanner"))

	if err := setupRelay(ctx, app); err != nil {
		return err
	}
	app.trigger = trigger.New(app.store, app.relay, ids, clock, "cron", app.logger.Named("trigger"))

	if cfg.Worker.Enabled {
		if app.consumer == nil {
			app.logger.Info("relay backend has no consumer; worker disabled", zap.String("relay", cfg.Relay.Backend))
		} else {
			app.worker = worker.New(app.consumer, app.scanner, worker.Config{RunBudget: cfg.Scan.RunBudget}, app.logger.Named("worker"))
		}
	}
	if cfg.Scheduler.Enabled {
		app.scheduler = trigger.NewScheduler(app.trigger.WithSource("scheduler"), trigger.SchedulerConfig{
			Interval:    cfg.Scheduler.Interval,
			FireOnStart: cfg.Scheduler.FireOnStart,
		}, app.logger.Named("scheduler"))
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(api.Deps{
		Store:   app.store,
		Relay:   app.relay,
		Runner:  app.scanner,
		Trigger: app.trigger,
		IDs:     ids,
		Clock:   clock,
	}, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		RunBudget:      cfg.Scan.RunBudget,
		APIKey:         apiKey,
	}, app.logger.Named("api"))
	return nil
}

func setupStore(ctx context.Context, app *App) (monitor.Store, error) {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case config.StoreLocal:
		s, err := localstore.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local store init failed: %w", err)
		}
		app.logger.Info("using local store", zap.String("path", cfg.Local.BaseDir))
		return s, nil
	case config.StoreRedis:
		s, err := redisstore.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis store init failed: %w", err)
		}
		app.logger.Info("using redis store", zap.String("key_prefix", cfg.Redis.KeyPrefix))
		return s, nil
	case config.StorePostgres:
		s, err := pgstore.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.logger.Info("using postgres store", zap.String("table", cfg.Postgres.Table))
		return s, nil
	case config.StoreGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		s, err := gcsstore.New(client, cfg.GCS)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs store init failed: %w", err)
		}
		app.logger.Info("using GCS store", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
		return s, nil
	case config.StoreDynamoDB:
		awsCfg, err := loadAWSConfig(ctx, cfg.DynamoDB.Region)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
			}
		})
		s, err := dynamostore.New(client, cfg.DynamoDB.Table)
		if err != nil {
			return nil, fmt.Errorf("dynamodb store init failed: %w", err)
		}
		app.logger.Info("using dynamodb store", zap.String("table", cfg.DynamoDB.Table))
		return s, nil
	default:
		app.logger.Warn("using in-memory store; snapshots and reports are lost on restart")
		return memstore.New(), nil
	}
}

func setupFetcher(app *App) (monitor.Fetcher, error) {
	cfg := app.cfg.Fetcher
	var fetcher monitor.Fetcher
	switch cfg.Backend {
	case config.FetcherHeadless:
		f, err := headlessfetcher.NewChromedp(cfg.Headless)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		app.headless = f
		fetcher = f
		app.logger.Info("using headless fetcher",
			zap.Int("max_parallel", cfg.Headless.MaxParallel),
			zap.Duration("navigation_timeout", cfg.Headless.NavigationTimeout))
	default:
		if cfg.ScraperAPI.APIKey == "" {
			app.logger.Warn("scraperapi key not set; every fetch will fail")
		}
		fetcher = scraperapi.New(cfg.ScraperAPI)
		app.logger.Info("using scraperapi fetcher",
			zap.String("endpoint", cfg.ScraperAPI.Endpoint),
			zap.Bool("render", cfg.ScraperAPI.Render),
			zap.String("country_code", cfg.ScraperAPI.CountryCode),
			zap.Duration("timeout", cfg.ScraperAPI.Timeout))
	}
	if cfg.RateLimit.RPS > 0 {
		app.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst))
	}
	return ratelimit.Wrap(fetcher, cfg.RateLimit), nil
}

func setupAnalyzer(ctx context.Context, app *App) (monitor.Analyzer, error) {
	cfg := app.cfg.Analysis
	if !cfg.Enabled {
		app.logger.Info("change analysis disabled")
		return nil, nil
	}
	var condenser *condense.Condenser
	if cfg.InputFormat == "markdown" || cfg.MaxInputBytes > 0 {
		c, err := condense.New(cfg.InputFormat, cfg.MaxInputBytes)
		if err != nil {
			return nil, fmt.Errorf("condenser init failed: %w", err)
		}
		condenser = c
	}
	a, err := gemini.New(ctx, cfg.Gemini, condenser, app.logger.Named("analysis"))
	if err != nil {
		return nil, fmt.Errorf("analyzer init failed: %w", err)
	}
	app.logger.Info("using gemini analyzer",
		zap.String("model", cfg.Gemini.Model),
		zap.String("input_format", cfg.InputFormat))
	return a, nil
}

func setupRelay(ctx context.Context, app *App) error {
	cfg := app.cfg.Relay
	switch cfg.Backend {
	case config.RelayQStash:
		qcfg := cfg.QStash
		if app.cfg.Auth.Enabled {
			qcfg.APIKey = app.cfg.Auth.APIKey
		}
		r, err := qstash.New(qcfg, nil)
		if err != nil {
			return fmt.Errorf("qstash relay init failed: %w", err)
		}
		app.relay = r
		app.logger.Info("using qstash relay", zap.String("destination", cfg.QStash.Destination))
	case config.RelayPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = pubsubrelay.NewPublisher(client.Publisher(cfg.PubSub.Topic))
		app.relay = app.pubsubPublisher
		if cfg.PubSub.Subscription != "" {
			app.consumer = pubsubrelay.NewSubscriber(client.Subscriber(cfg.PubSub.Subscription), app.logger.Named("pubsub"))
		}
		app.logger.Info("using pubsub relay",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.Topic),
			zap.String("subscription", cfg.PubSub.Subscription))
	case config.RelaySQS:
		awsCfg, err := loadAWSConfig(ctx, cfg.SQS.Region)
		if err != nil {
			return err
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.SQS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.SQS.Endpoint)
			}
		})
		r, err := sqsrelay.New(client, cfg.SQS, app.logger.Named("sqs"))
		if err != nil {
			return fmt.Errorf("sqs relay init failed: %w", err)
		}
		app.relay = r
		app.consumer = r
		app.logger.Info("using sqs relay", zap.String("queue_url", cfg.SQS.QueueURL))
	default:
		app.memRelay = memrelay.New(cfg.Capacity, app.logger.Named("relay"))
		app.relay = app.memRelay
		app.consumer = app.memRelay
		app.logger.Info("using in-memory relay", zap.Int("capacity", cfg.Capacity))
	}
	return nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return awsCfg, nil
}
