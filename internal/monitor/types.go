package monitor

import (
	"errors"
	"time"
)

// ChangeStatus is the lifecycle status assigned to a scanned URL.
type ChangeStatus string

// Change status values as they appear in persisted reports.
const (
	StatusBaselineScan     ChangeStatus = "Baseline Scan"
	StatusNoChange         ChangeStatus = "No Change"
	StatusPermanentRollout ChangeStatus = "Permanent Rollout"
	StatusScanError        ChangeStatus = "Scan Error"
)

// Well-known store keys.
const (
	KeyMonitoringURLs = "monitoring-urls"
	KeyLatestReport   = "latestReport"
	SnapshotKeyPrefix = "scan:"
)

// Fallback fields applied when a change is detected but analysis fails.
const (
	FallbackChangeCategory = "Content Update"
	FallbackSummary        = "Change detected, but AI analysis failed."
)

// ScanDateLayout formats the per-run scan date.
const ScanDateLayout = "2006-01-02"

// ErrAnalysisUnavailable signals that no analysis backend is configured.
var ErrAnalysisUnavailable = errors.New("analysis unavailable")

// ErrMalformedRequest is returned for relay payloads without a urls array.
var ErrMalformedRequest = errors.New("malformed scan request")

// ReportEntry is one URL's classified outcome for a single scan run.
type ReportEntry struct {
	ScanDate       string       `json:"scanDate"`
	Competitor     string       `json:"competitor"`
	URL            string       `json:"url"`
	Subcategory    string       `json:"subcategory"`
	ChangeDetected bool         `json:"changeDetected"`
	ChangeStatus   ChangeStatus `json:"changeStatus"`
	ChangeCategory string       `json:"changeCategory,omitempty"`
	Summary        string       `json:"summary,omitempty"`
	Insight        string       `json:"insight,omitempty"`
	Hypothesis     string       `json:"hypothesis,omitempty"`
}

// ScanReport is the aggregated, timestamped result of one scan run.
type ScanReport struct {
	LastUpdated time.Time     `json:"lastUpdated"`
	ReportData  []ReportEntry `json:"reportData"`
}

// Analysis is the structured summary produced for a detected change.
type Analysis struct {
	ChangeCategory string `json:"changeCategory"`
	Summary        string `json:"summary"`
	Insight        string `json:"insight"`
	Hypothesis     string `json:"hypothesis"`
}

// Empty reports whether none of the analysis fields carry content.
func (a Analysis) Empty() bool {
	return a.ChangeCategory == "" && a.Summary == "" && a.Insight == "" && a.Hypothesis == ""
}

// ScanRequest is the message relayed to the scan worker.
type ScanRequest struct {
	URLs        []string  `json:"urls"`
	RequestID   string    `json:"requestId,omitempty"`
	RequestedAt *time.Time `json:"requestedAt,omitempty"`
}

// Stamp sets RequestedAt to t.
func (r *ScanRequest) Stamp(t time.Time) {
	r.RequestedAt = &t
}

// Valid reports whether the request carries a urls array. An empty array is
// valid and produces an empty report; a missing or null one is not.
func (r ScanRequest) Valid() bool {
	return r.URLs != nil
}

// NewScanReport wraps the ordered entries and generation time into the
// persisted report shape.
func NewScanReport(entries []ReportEntry, generatedAt time.Time) ScanReport {
	if entries == nil {
		entries = []ReportEntry{}
	}
	return ScanReport{
		LastUpdated: generatedAt.UTC(),
		ReportData:  entries,
	}
}
