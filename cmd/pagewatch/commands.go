package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagewatch/internal/monitor"
	"github.com/JakeFAU/pagewatch/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API, worker and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [url...]",
		Short: "Runs one scan synchronously and prints the report",
		Long: `Scans the given URLs, or the managed URL list when none are given, and
persists the report exactly as the worker would.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			urls := args
			if len(urls) == 0 {
				urls, err = monitor.LoadURLs(cmd.Context(), app.Store())
				if err != nil {
					return err
				}
			}
			ctx, cancel := worker.WithBudget(cmd.Context(), app.RunBudget())
			defer cancel()
			report, err := app.Runner().Run(ctx, urls)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Queues a scan of the managed URL list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := app.Firer().Fire(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newURLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urls",
		Short: "Reads or replaces the managed URL list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Prints the managed URL list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			urls, err := monitor.LoadURLs(cmd.Context(), app.Store())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string][]string{"urls": urls})
		},
	})

	var file string
	set := &cobra.Command{
		Use:   "set [url...]",
		Short: "Replaces the managed URL list",
		Long:  "Replaces the managed URL list with the arguments, or with the URLs listed one per line in --file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			urls := args
			if file != "" {
				urls, err = readURLFile(file)
				if err != nil {
					return err
				}
			}
			if err := monitor.SaveURLs(cmd.Context(), app.Store(), urls); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "URL list updated (%d urls).\n", len(urls))
			return err
		},
	}
	set.Flags().StringVar(&file, "file", "", "file with one URL per line; blank lines and # comments are skipped")
	cmd.AddCommand(set)
	return cmd
}

// readURLFile reads one URL per line, skipping blank lines and # comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	urls := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return urls, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
