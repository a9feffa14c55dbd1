package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagewatch/internal/config"
	"github.com/JakeFAU/pagewatch/internal/monitor"
	"github.com/JakeFAU/pagewatch/internal/server"
	"github.com/JakeFAU/pagewatch/internal/trigger"
	"github.com/JakeFAU/pagewatch/internal/worker"
)

// application is the subset of *server.App the commands use. It is an
// interface so tests can inject a fake.
type application interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Store() monitor.Store
	Runner() worker.Runner
	Firer() trigger.Firer
	RunBudget() time.Duration
}

type appKeyType struct{}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (application, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pagewatch",
		Short: "Monitors competitor pages and reports strategic changes.",
		Long: `pagewatch snapshots a list of web pages, detects content changes between
runs, summarizes each change with a language model and keeps the latest
report available over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, app))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			return app.Close(context.Background())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newURLsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (application, error) {
	app, ok := ctx.Value(appKeyType{}).(application)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}
