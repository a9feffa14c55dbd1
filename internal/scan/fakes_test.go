package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/pagewatch/internal/monitor"
)

type fakeStore struct {
	mu     sync.Mutex
	data   map[string]string
	getErr map[string]error
	setErr map[string]error
	sets   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:   map[string]string{},
		getErr: map[string]error{},
		setErr: map[string]error{},
	}
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[key]; err != nil {
		return "", false, err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setErr[key]; err != nil {
		return err
	}
	s.data[key] = value
	s.sets = append(s.sets, key)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	calls   []string
	onFetch func(url string)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if err := f.errs[url]; err != nil {
		return "", err
	}
	page, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("Scraping API error: 404")
	}
	return page, nil
}

type analyzeCall struct {
	previous string
	current  string
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	analysis *monitor.Analysis
	err      error
	calls    []analyzeCall
}

func (a *fakeAnalyzer) Analyze(_ context.Context, previous, current string) (*monitor.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, analyzeCall{previous: previous, current: current})
	if a.err != nil {
		return nil, a.err
	}
	return a.analysis, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty")
	}
	return fmt.Sprintf("len-%d", len(data)), nil
}

// stepClock returns each configured time once and then repeats the last one.
type stepClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

func fixedClock(ts time.Time) *stepClock {
	return &stepClock{times: []time.Time{ts}}
}
