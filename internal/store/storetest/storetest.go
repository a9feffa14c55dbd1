// Package storetest holds behavior every monitor.Store backend must share.
package storetest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// Run exercises newStore against the key-value contract the scanner and HTTP
// handlers rely on. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) monitor.Store) {
	t.Helper()

	t.Run("MissingKeyIsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, found, err := s.Get(context.Background(), "scan:missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "scan:a", "<html>1</html>"))
		require.NoError(t, s.Set(ctx, "scan:a", "<html>2</html>"))
		got, found, err := s.Get(ctx, "scan:a")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "<html>2</html>", got)
	})

	t.Run("ValuesAreByteExact", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		value := "<html>\r\n  café \x00 </html>\n"
		require.NoError(t, s.Set(ctx, "scan:bytes", value))
		got, _, err := s.Get(ctx, "scan:bytes")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("EncodedSnapshotKeys", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := monitor.SnapshotKey("https://example.com/a?b=c d")
		require.NoError(t, s.Set(ctx, key, "x"))
		got, found, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "x", got)
	})

	t.Run("LongSnapshotKeys", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := monitor.SnapshotKey("https://example.com/p?ref=" + strings.Repeat("campaign-", 40))
		require.NoError(t, s.Set(ctx, key, "long"))
		got, found, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "long", got)
	})

	t.Run("RecordsRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, monitor.SaveURLs(ctx, s, []string{"https://a.example"}))
		urls, err := monitor.LoadURLs(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.example"}, urls)
	})
}
