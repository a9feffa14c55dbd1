package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagewatch/internal/monitor"
	"github.com/JakeFAU/pagewatch/internal/store/storetest"
)

var _ monitor.Store = (*Store)(nil)

func TestStoreGetSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()

	_, found, err := store.Get(ctx, "scan:a")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "scan:a", "<html>1</html>"))
	require.NoError(t, store.Set(ctx, "scan:a", "<html>2</html>"))

	got, found, err := store.Get(ctx, "scan:a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "<html>2</html>", got)
	require.Equal(t, 1, store.Keys())
	require.NoError(t, store.Close())
}

func TestStoreEmptyValueIsPresent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	require.NoError(t, store.Set(ctx, "k", ""))
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) monitor.Store { return New() })
}
