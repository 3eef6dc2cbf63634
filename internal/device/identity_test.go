package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-attendance/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate_StableAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()

	id1, err := NewIdentity(kv).GetOrCreate(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(id1)
	require.NoError(t, err)

	// 新进程（新的 Identity 实例）读取同一存储
	id2, err := NewIdentity(kv).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestGetOrCreate_UsesExistingValue(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, store.KeyDeviceID, "device-abc", 0))

	id, err := NewIdentity(kv).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "device-abc", id)
}

type failingKV struct{ store.KV }

func (failingKV) Get(context.Context, string) (string, error) {
	return "", errors.New("redis down")
}

func (failingKV) Set(context.Context, string, string, time.Duration) error {
	panic("must not overwrite device id on read failure")
}

func TestGetOrCreate_ReadFailureDoesNotRegenerate(t *testing.T) {
	_, err := NewIdentity(failingKV{}).GetOrCreate(context.Background())
	assert.Error(t, err)
}
