package main

import (
	"path/filepath"
	"testing"

	"cosmicwatch/config"
	"cosmicwatch/core"
	"cosmicwatch/database"
	"cosmicwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRuntimeOptionsKeepEventQueueOutOfDatabase(t *testing.T) {
	db, err := database.OpenPath(filepath.Join(t.TempDir(), "cw.db"), database.SQLiteOptions{PragmasEnabled: true, BusyTimeoutMS: 1000}, "INFO", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	settings := database.NewSettingsStorage(db)
	rt := core.NewRuntime(runtimeOptions(config.Default(), settings, nil, nil, 5000, zap.NewNop(), nil))
	t.Cleanup(rt.Close)

	for i := 0; i < 3; i++ {
		rt.Monitor.Record(models.Event{Component: "HTTPServer", Message: "request"})
	}

	_, ok := settings.Get(core.DurableQueueKey)
	assert.False(t, ok, "event queue must not be mirrored into app settings")
	assert.Len(t, rt.Log.DurableQueue(), 3)

	require.NoError(t, settings.Set(core.RefreshTokenKey, "refresh"))
	stored, ok := rt.Storage.Get(core.RefreshTokenKey)
	require.True(t, ok)
	assert.Equal(t, "refresh", stored)

	ev := rt.Log.Snapshot()[0]
	assert.Equal(t, "http://127.0.0.1:5000", ev.URL)
}
