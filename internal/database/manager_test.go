package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/database/storetest"
	dbconfig "attendance/pkg/database"
	"attendance/pkg/interfaces"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	manager, err := NewManager(cfg)
	require.NoError(t, err)
	return manager
}

func TestManager_Store(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.Store {
		return newTestManager(t)
	})
}

func TestManager_InvalidConfig(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = ""
	_, err := NewManager(cfg)
	assert.Error(t, err)
}

func TestManager_WritesAfterClose(t *testing.T) {
	manager := newTestManager(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	s := storetest.NewSession(storetest.MathID, "123456", time.Now())
	err := manager.CreateSession(context.Background(), s)
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_ReopenKeepsData(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	manager, err := NewManager(cfg)
	require.NoError(t, err)
	storetest.Seed(t, manager)
	s := storetest.NewSession(storetest.MathID, "123456", time.Now().UTC())
	require.NoError(t, manager.CreateSession(ctx, s))
	require.NoError(t, manager.Close())

	manager, err = NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	active, err := manager.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, s.ID, active[0].ID)
}

func TestManager_CancelledContext(t *testing.T) {
	manager := newTestManager(t)
	t.Cleanup(func() { _ = manager.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := manager.GetSession(ctx, "any")
	assert.Error(t, err)
}
