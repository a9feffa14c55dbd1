package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/clock/system"
	"github.com/JakeFAU/pagewatch/internal/monitor"
	memrelay "github.com/JakeFAU/pagewatch/internal/relay/memory"
	"github.com/JakeFAU/pagewatch/internal/scan"
	memstore "github.com/JakeFAU/pagewatch/internal/store/memory"
)

type staticFetcher string

func (f staticFetcher) Fetch(context.Context, string) (string, error) {
	return string(f), nil
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	deadline time.Time
	err      error
	block    bool
}

func (f *fakeRunner) Run(ctx context.Context, urls []string) (monitor.ScanReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, urls)
	if d, ok := ctx.Deadline(); ok {
		f.deadline = d
	}
	block, err := f.block, f.err
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return monitor.ScanReport{}, ctx.Err()
	}
	if err != nil {
		return monitor.ScanReport{}, err
	}
	entries := make([]monitor.ReportEntry, len(urls))
	for i, u := range urls {
		entries[i] = monitor.ReportEntry{URL: u, ChangeStatus: monitor.StatusBaselineScan}
	}
	return monitor.NewScanReport(entries, time.Now()), nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestHandleAppliesRunBudget(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	w := New(nil, runner, Config{RunBudget: time.Minute}, zap.NewNop())

	start := time.Now()
	require.NoError(t, w.Handle(context.Background(), monitor.ScanRequest{URLs: []string{"https://a.example"}, RequestID: "r1"}))
	require.Equal(t, 1, runner.callCount())
	assert.WithinDuration(t, start.Add(time.Minute), runner.deadline, 5*time.Second)
}

func TestHandleBudgetExpiry(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: true}
	w := New(nil, runner, Config{RunBudget: 20 * time.Millisecond}, zap.NewNop())

	err := w.Handle(context.Background(), monitor.ScanRequest{URLs: []string{"https://a.example"}, RequestID: "r2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "r2")
}

func TestHandlePropagatesRunError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("store down")}
	w := New(nil, runner, Config{}, nil)

	err := w.Handle(context.Background(), monitor.ScanRequest{URLs: []string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestHandleSkipsRequestWithoutURLs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	scanner := scan.New(store, staticFetcher("<html>A</html>"), nil, nil, system.New(), zap.NewNop())
	w := New(nil, scanner, Config{}, zap.NewNop())

	require.NoError(t, w.Handle(ctx, monitor.ScanRequest{URLs: []string{"https://a.example"}}))

	for _, body := range []string{`{}`, `{"urls":null}`} {
		var req monitor.ScanRequest
		require.NoError(t, json.Unmarshal([]byte(body), &req))
		require.NoError(t, w.Handle(ctx, req), body)
	}

	report, found, err := monitor.LoadReport(ctx, store)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, report.ReportData, 1, "previous report stays visible")
}

func TestHandleRunsEmptyURLArray(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	w := New(nil, runner, Config{}, zap.NewNop())
	require.NoError(t, w.Handle(context.Background(), monitor.ScanRequest{URLs: []string{}}))
	assert.Equal(t, 1, runner.callCount())
}

func TestRunConsumesRelay(t *testing.T) {
	t.Parallel()

	relay := memrelay.New(4, zap.NewNop())
	runner := &fakeRunner{}
	w := New(relay, runner, Config{RunBudget: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, relay.Enqueue(ctx, monitor.ScanRequest{URLs: []string{"https://a.example"}}))
	require.NoError(t, relay.Enqueue(ctx, monitor.ScanRequest{URLs: []string{"https://b.example", "https://c.example"}}))

	require.Eventually(t, func() bool { return runner.callCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"https://a.example"}, runner.calls[0])
	assert.Len(t, runner.calls[1], 2)
}

func TestRunWithoutConsumer(t *testing.T) {
	t.Parallel()
	assert.Error(t, New(nil, &fakeRunner{}, Config{}, nil).Run(context.Background()))
}

func TestWithBudget(t *testing.T) {
	t.Parallel()

	ctx, cancel := WithBudget(context.Background(), 0)
	_, ok := ctx.Deadline()
	assert.False(t, ok)
	cancel()
	assert.Error(t, ctx.Err())

	ctx, cancel = WithBudget(context.Background(), time.Hour)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.True(t, ok)
}
