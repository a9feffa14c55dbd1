// Package scan implements the scan-and-diff pipeline: fetch every target URL,
// compare it with the stored snapshot, enrich detected changes and persist a
// single aggregated report.
package scan

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// Scanner runs scans over a list of URLs. It processes URLs sequentially and
// is not meant to run concurrently with itself against the same store.
type Scanner struct {
	store    monitor.Store
	fetcher  monitor.Fetcher
	analyzer monitor.Analyzer
	hasher   monitor.Hasher
	clock    monitor.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New constructs a Scanner. analyzer and hasher may be nil; without an
// analyzer every detected change gets the fallback fields.
func New(
	store monitor.Store,
	fetcher monitor.Fetcher,
	analyzer monitor.Analyzer,
	hasher monitor.Hasher,
	clock monitor.Clock,
	logger *zap.Logger,
) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		store:    store,
		fetcher:  fetcher,
		analyzer: analyzer,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
		tracer:   otel.Tracer("github.com/JakeFAU/pagewatch/internal/scan"),
	}
}

// urlOutcome is the result of scanning one URL. snapshot is nil when the
// stored snapshot must be left untouched.
type urlOutcome struct {
	entry    monitor.ReportEntry
	snapshot *string
}

// Run scans urls in order and persists the resulting report under
// latestReport. Per-URL fetch failures become Scan Error entries. Store
// failures and context cancellation abort the run without writing a report.
func (s *Scanner) Run(ctx context.Context, urls []string) (report monitor.ScanReport, err error) {
	ctx, span := s.tracer.Start(ctx, "scan.run", trace.WithAttributes(attribute.Int("scan.urls", len(urls))))
	started := time.Now()
	metrics.IncActiveRuns()
	defer func() {
		metrics.DecActiveRuns()
		metrics.ObserveRun(err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	scanDate := s.clock.Now().UTC().Format(monitor.ScanDateLayout)
	s.logger.Info("scan started", zap.Int("urls", len(urls)), zap.String("scan_date", scanDate))

	entries := make([]monitor.ReportEntry, 0, len(urls))
	for _, target := range urls {
		if err := ctx.Err(); err != nil {
			return monitor.ScanReport{}, fmt.Errorf("scan aborted before %s: %w", target, err)
		}
		outcome, err := s.scanURL(ctx, scanDate, target)
		if err != nil {
			return monitor.ScanReport{}, err
		}
		if outcome.snapshot != nil {
			key := monitor.SnapshotKey(target)
			if err := s.store.Set(ctx, key, *outcome.snapshot); err != nil {
				return monitor.ScanReport{}, fmt.Errorf("store snapshot for %s: %w", target, err)
			}
		}
		entries = append(entries, outcome.entry)
	}
	if err := ctx.Err(); err != nil {
		return monitor.ScanReport{}, fmt.Errorf("scan aborted before saving report: %w", err)
	}

	report = monitor.NewScanReport(entries, s.clock.Now())
	if err := monitor.SaveReport(ctx, s.store, report); err != nil {
		return monitor.ScanReport{}, fmt.Errorf("save report: %w", err)
	}
	s.logger.Info("scan finished",
		zap.Int("entries", len(entries)),
		zap.Duration("duration", time.Since(started)),
	)
	return report, nil
}

func (s *Scanner) scanURL(ctx context.Context, scanDate, target string) (urlOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "scan.url", trace.WithAttributes(attribute.String("url.full", target)))
	defer span.End()

	entry := monitor.ReportEntry{
		ScanDate:    scanDate,
		Competitor:  monitor.Competitor(target),
		URL:         target,
		Subcategory: monitor.Subcategory(target),
	}

	content, err := s.fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		entry.ChangeStatus = monitor.StatusScanError
		entry.Summary = err.Error()
		s.logger.Warn("fetch failed", zap.String("url", target), zap.Error(err))
		metrics.ObserveURL(target, string(entry.ChangeStatus), 0)
		return urlOutcome{entry: entry}, nil
	}

	previous, found, err := s.store.Get(ctx, monitor.SnapshotKey(target))
	if err != nil {
		span.RecordError(err)
		return urlOutcome{}, fmt.Errorf("load snapshot for %s: %w", target, err)
	}

	class := monitor.Classify(previous, found, content)
	entry.ChangeDetected = class.ChangeDetected
	entry.ChangeStatus = class.Status
	if class.ChangeDetected {
		s.enrich(ctx, &entry, previous, content)
	}
	span.SetAttributes(attribute.String("scan.status", string(entry.ChangeStatus)))

	s.logger.Info("url scanned",
		zap.String("url", target),
		zap.String("status", string(entry.ChangeStatus)),
		zap.String("content_hash", s.digest(content)),
		zap.Int("bytes", len(content)),
	)
	metrics.ObserveURL(target, string(entry.ChangeStatus), len(content))
	return urlOutcome{entry: entry, snapshot: &content}, nil
}

func (s *Scanner) fetch(ctx context.Context, target string) (string, error) {
	started := time.Now()
	content, err := s.fetcher.Fetch(ctx, target)
	metrics.ObserveFetch(time.Since(started), err)
	return content, err
}

// enrich fills the analysis fields, substituting the fallback on any failure.
func (s *Scanner) enrich(ctx context.Context, entry *monitor.ReportEntry, previous, current string) {
	analysis, err := s.analyze(ctx, previous, current)
	if err != nil {
		s.logger.Warn("change analysis failed", zap.String("url", entry.URL), zap.Error(err))
		entry.ChangeCategory = monitor.FallbackChangeCategory
		entry.Summary = monitor.FallbackSummary
		return
	}
	entry.ChangeCategory = analysis.ChangeCategory
	entry.Summary = analysis.Summary
	entry.Insight = analysis.Insight
	entry.Hypothesis = analysis.Hypothesis
}

func (s *Scanner) analyze(ctx context.Context, previous, current string) (*monitor.Analysis, error) {
	if s.analyzer == nil {
		return nil, monitor.ErrAnalysisUnavailable
	}
	started := time.Now()
	analysis, err := s.analyzer.Analyze(ctx, previous, current)
	if err == nil && (analysis == nil || analysis.Empty()) {
		err = fmt.Errorf("empty analysis")
	}
	metrics.ObserveAnalysis(time.Since(started), err)
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

func (s *Scanner) digest(content string) string {
	if s.hasher == nil {
		return ""
	}
	sum, err := s.hasher.Hash([]byte(content))
	if err != nil {
		return ""
	}
	return sum
}
