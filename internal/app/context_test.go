package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratline/internal/config"
	"stratline/internal/engine"
	"stratline/internal/notify"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	c, err := Open(context.Background(), Options{Workspace: dir, OrgID: "acme", LogOutput: &logs})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.Equal(t, "acme", c.Config.Org.ID)
	s, err := c.Engine.CreateStrategy(context.Background(), engine.CreateStrategyOptions{OrgID: "acme", Title: "Expand"})
	require.NoError(t, err)
	got, err := c.Repo.GetStrategy(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Expand", got.Title)
}

func TestOpenReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	yml := "org:\n  id: beta\nlog:\n  level: debug\n  format: json\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(yml), 0o644))
	var logs bytes.Buffer
	c, err := Open(context.Background(), Options{Workspace: dir, LogOutput: &logs})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.Equal(t, "beta", c.Config.Org.ID)
	assert.Contains(t, logs.String(), `"msg":"workspace opened"`)
}

func TestNotifierAddsWebhooksWhenConfigured(t *testing.T) {
	cfg := config.Default("org")
	n, ok := Notifier(cfg, nil).(notify.Multi)
	require.True(t, ok)
	assert.Len(t, n, 1)

	cfg.Notifications.Webhooks = []config.Webhook{{ID: "ops", URL: "https://hooks.example.com/x"}}
	n, ok = Notifier(cfg, nil).(notify.Multi)
	require.True(t, ok)
	assert.Len(t, n, 2)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn", "text")
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
