package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoFetcher struct{ calls int }

func (e *echoFetcher) Fetch(_ context.Context, target string) (string, error) {
	e.calls++
	return "<html>" + target + "</html>", nil
}

func TestLimiterWaitSpacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.example/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.example/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.example/"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "hosts have independent buckets")
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestWrap(t *testing.T) {
	t.Parallel()

	inner := &echoFetcher{}
	assert.Same(t, inner, Wrap(inner, Config{}), "disabled limiter returns the inner fetcher")

	wrapped := Wrap(inner, Config{RPS: 100, Burst: 2})
	got, err := wrapped.Fetch(context.Background(), "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, "<html>https://a.example</html>", got)
	assert.Equal(t, 1, inner.calls)
}

func TestHostOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a.example", hostOf("https://A.example:8443/x"))
	assert.Equal(t, "unknown", hostOf("::bad"))
}
