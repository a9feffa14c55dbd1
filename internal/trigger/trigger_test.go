package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/monitor"
	memstore "github.com/JakeFAU/pagewatch/internal/store/memory"
)

type recordingRelay struct {
	mu   sync.Mutex
	reqs []monitor.ScanRequest
	err  error
}

func (r *recordingRelay) Enqueue(_ context.Context, req monitor.ScanRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type failingStore struct{ monitor.Store }

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func TestFireQueuesURLs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	urls := []string{"https://a.example/pricing", "https://b.example"}
	require.NoError(t, monitor.SaveURLs(context.Background(), store, urls))
	relay := &recordingRelay{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	res, err := New(store, relay, staticID("req-1"), fixedClock(now), "cron", zap.NewNop()).Fire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Queued: true, URLs: 2, RequestID: "req-1", Message: MessageQueued}, res)

	require.Len(t, relay.reqs, 1)
	assert.Equal(t, urls, relay.reqs[0].URLs)
	assert.Equal(t, "req-1", relay.reqs[0].RequestID)
	require.NotNil(t, relay.reqs[0].RequestedAt)
	assert.Equal(t, now, *relay.reqs[0].RequestedAt)
}

func TestFireEmptyListIsNoop(t *testing.T) {
	t.Parallel()

	relay := &recordingRelay{}
	res, err := New(memstore.New(), relay, nil, nil, "", nil).Fire(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, MessageNoURLs, res.Message)
	assert.Empty(t, relay.reqs)
}

func TestFireErrors(t *testing.T) {
	t.Parallel()

	_, err := New(failingStore{}, &recordingRelay{}, nil, nil, "cron", nil).Fire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load url list")

	store := memstore.New()
	require.NoError(t, monitor.SaveURLs(context.Background(), store, []string{"https://a.example"}))
	_, err = New(store, &recordingRelay{err: errors.New("401 unauthorized")}, nil, nil, "cron", nil).Fire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to queue scan")
}

func TestWithSourceCopies(t *testing.T) {
	t.Parallel()

	base := New(memstore.New(), &recordingRelay{}, nil, nil, "cron", nil)
	sched := base.WithSource("scheduler")
	assert.Equal(t, "cron", base.source)
	assert.Equal(t, "scheduler", sched.source)
}
