package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/config"
	"github.com/dokzlo13/dashd/internal/ledger"
)

const testDashboard = `
title: Test
views:
  - id: main
    children:
      - id: lamp
        entity: light.lamp
        visibility:
          - condition: state
            state: "on"
`

func testConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dashboard.yaml"), []byte(testDashboard), 0o644))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "hooks.lua"), []byte(script), 0o644))
	}

	src := `
dashboard:
  path: ` + filepath.Join(dir, "dashboard.yaml") + `
database:
  path: ` + filepath.Join(dir, "dashd.sqlite") + `
ledger:
  enabled: true
shutdown_timeout: 2s
`
	if script != "" {
		src += "script: hooks.lua\n"
	}
	cfg, err := config.Parse([]byte(src))
	require.NoError(t, err)
	return cfg
}

func TestServices_StartMountsDashboard(t *testing.T) {
	cfg := testConfig(t, `
		local dash = require("dash")
		dash.on_visibility("lamp", function(id, visible)
			dash.set_state("input_boolean.lamp_shown", visible and "on" or "off")
		end)
	`)

	s, err := NewServices(cfg)
	require.NoError(t, err)
	require.Nil(t, s.API)
	require.NotNil(t, s.Lua)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, func(err error) { t.Errorf("unexpected fatal error: %v", err) }))

	require.NotNil(t, s.Board.Dashboard())
	assert.False(t, s.Board.Visible("lamp"))

	_, err = s.Entities.Set("light.lamp", condition.EntityState{State: "on"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Board.Visible("lamp") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st, ok := s.Entities.Get("input_boolean.lamp_shown")
		return ok && st.State == "on"
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, s.Stop())
}

func TestServices_RestoreAndClearState(t *testing.T) {
	cfg := testConfig(t, "")

	s, err := NewServices(cfg)
	require.NoError(t, err)
	_, err = s.Entities.Set("light.lamp", condition.EntityState{State: "on"})
	require.NoError(t, err)
	s.Close()

	s, err = NewServices(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, func(error) {}))
	assert.True(t, s.Board.Visible("lamp"))
	cancel()
	require.NoError(t, s.Stop())

	s, err = NewServices(cfg)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.ClearState())
	n, err := s.Entities.Restore()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServices_StartFailsOnInvalidDashboard(t *testing.T) {
	cfg := testConfig(t, "")
	require.NoError(t, os.WriteFile(cfg.Dashboard.Path, []byte("views:\n  - id: a\n    type: card\n"), 0o644))

	s, err := NewServices(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	assert.Error(t, s.Start(ctx, func(error) {}))
	cancel()
	require.NoError(t, s.Stop())
}

func TestNewServices_InvalidCleanupSchedule(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Ledger.CleanupSchedule = "not a schedule"

	_, err := NewServices(cfg)
	assert.Error(t, err)
}

func TestCleanupService(t *testing.T) {
	cfg := testConfig(t, "")
	s, err := NewServices(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ledger.Append(&ledger.Entry{
		EventType: ledger.EventDashboardReloaded,
		Timestamp: time.Now().Add(-60 * 24 * time.Hour),
	}))
	require.NoError(t, s.Ledger.Append(&ledger.Entry{EventType: ledger.EventDashboardReloaded}))

	require.NotNil(t, s.Cleanup)
	s.Cleanup.RunOnce()

	entries, err := s.Ledger.GetByType(ledger.EventDashboardReloaded, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNewCleanupService_DisabledRetention(t *testing.T) {
	c, err := NewCleanupService(nil, "@daily", 30, time.UTC)
	require.NoError(t, err)
	assert.Nil(t, c)
}
