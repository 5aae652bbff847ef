package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-staging-ai/miniredis/internal/store"
)

func TestStartSamplesImmediately(t *testing.T) {
	db := store.New(nil)
	defer db.Close()
	db.Set([]byte("k"), []byte("v"), 0)

	r := New(db, nil, "@every 1h")
	require.NoError(t, r.Start())
	defer r.Stop(context.Background())

	snap := r.Snapshot()
	assert.Equal(t, 1, snap.Store.Keys)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	db := store.New(nil)
	defer db.Close()

	r := New(db, nil, "not a schedule")
	err := r.Start()
	assert.Error(t, err)
}

func TestStopIsIdempotentWithTimeout(t *testing.T) {
	db := store.New(nil)
	defer db.Close()

	r := New(db, nil, "@every 1h")
	require.NoError(t, r.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Stop(ctx)
	r.Stop(ctx)
}
