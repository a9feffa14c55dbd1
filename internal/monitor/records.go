package monitor

import (
	"context"
	"encoding/json"
	"fmt"
)

// DecodeScanRequest parses a relayed payload. Payloads that are not JSON
// objects or lack a urls array fail with ErrMalformedRequest.
func DecodeScanRequest(data []byte) (ScanRequest, error) {
	var req ScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ScanRequest{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if !req.Valid() {
		return ScanRequest{}, fmt.Errorf("%w: missing urls array", ErrMalformedRequest)
	}
	return req, nil
}

// LoadURLs reads the managed URL list. An absent key yields an empty list.
func LoadURLs(ctx context.Context, store Store) ([]string, error) {
	raw, found, err := store.Get(ctx, KeyMonitoringURLs)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", KeyMonitoringURLs, err)
	}
	if !found || raw == "" {
		return []string{}, nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyMonitoringURLs, err)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

// SaveURLs replaces the managed URL list.
func SaveURLs(ctx context.Context, store Store, urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyMonitoringURLs, err)
	}
	if err := store.Set(ctx, KeyMonitoringURLs, string(data)); err != nil {
		return fmt.Errorf("set %s: %w", KeyMonitoringURLs, err)
	}
	return nil
}

// LoadReport reads the latest persisted report; found is false when no run
// has completed yet.
func LoadReport(ctx context.Context, store Store) (ScanReport, bool, error) {
	raw, found, err := store.Get(ctx, KeyLatestReport)
	if err != nil {
		return ScanReport{}, false, fmt.Errorf("get %s: %w", KeyLatestReport, err)
	}
	if !found || raw == "" {
		return ScanReport{}, false, nil
	}
	var report ScanReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return ScanReport{}, false, fmt.Errorf("decode %s: %w", KeyLatestReport, err)
	}
	return report, true, nil
}

// SaveReport overwrites the latest report in a single write.
func SaveReport(ctx context.Context, store Store, report ScanReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyLatestReport, err)
	}
	if err := store.Set(ctx, KeyLatestReport, string(data)); err != nil {
		return fmt.Errorf("set %s: %w", KeyLatestReport, err)
	}
	return nil
}
