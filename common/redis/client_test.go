package redis

import (
	"context"
	"testing"
	"time"

	"wisefido-attendance/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReady_GivesUpAtDeadline(t *testing.T) {
	client := NewRedisClient(&config.RedisConfig{Addr: "127.0.0.1:1"})
	defer Close(client)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := WaitReady(ctx, client, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
