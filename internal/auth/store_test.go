package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiAU/slotwatch/internal/models"
)

func TestFileStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	state, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, state.Reusable())

	saved := models.SessionState{
		Authenticated: true,
		Cookies:       []byte(`[{"name":"sid","value":"abc"}]`),
		LastLoginAt:   time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, saved))

	// A new store over the same directory sees the state, as after a restart.
	reopened := NewFileStore(filepath.Dir(store.Path()))
	state, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, state)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Invalidate(ctx))
	require.NoError(t, store.Invalidate(ctx))
	state, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionState{}, state)
}

func TestFileStoreCorrupt(t *testing.T) {
	store := NewFileStore(t.TempDir())
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptState)
}
