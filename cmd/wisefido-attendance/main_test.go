package main

import (
	"context"
	"errors"
	"testing"
	"time"

	commoncfg "wisefido-attendance/common/config"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenRemote_PostgresUnreachableStillConfigured(t *testing.T) {
	cfg := &config.Config{RemoteDriver: config.RemotePostgres}
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     1,
		User:     "attendance",
		Password: "secret",
		Database: "attendance",
		SSLMode:  "disable",
	}

	remote, db, err := openRemote(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, remote)
	require.NotNil(t, db)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.True(t, errors.Is(remote.Ping(ctx), repository.ErrRemoteUnreachable))
}

func TestOpenRemote_None(t *testing.T) {
	remote, db, err := openRemote(&config.Config{RemoteDriver: config.RemoteNone}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, remote)
	assert.Nil(t, db)
}
