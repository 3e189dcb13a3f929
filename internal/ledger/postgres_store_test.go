package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	key := "test-key-" + time.Now().Format("150405.000000")
	rec := Record{
		TxHash:    "0xabc",
		Block:     12,
		GasUsed:   34,
		AttemptID: "attempt",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, key, rec))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.TxHash, got.TxHash)
	assert.Equal(t, rec.Block, got.Block)
	assert.False(t, got.Pending)

	rec.Pending = true
	require.NoError(t, store.Save(ctx, key, rec))
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Pending)

	missing, err := store.Get(ctx, key+"-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), "")
	require.Error(t, err)
}
