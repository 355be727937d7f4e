package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh_Once(t *testing.T) {
	env := newCLIEnv(t)
	assert.Contains(t, env.ok("refresh"), "Refreshed 0 treasury(ies)")

	fundedTreasury(t, env)
	assert.Contains(t, env.ok("refresh"), "Refreshed 1 treasury(ies)")

	d := env.data("refresh")
	assert.Equal(t, float64(1), d["refreshed"])
	assert.NotContains(t, d, "error")

	tr := env.data("treasury", "show", addr("payroll"))
	assert.Equal(t, float64(50_000_000), units(t, tr, "balance"))
}

func TestRefresh_Schedule(t *testing.T) {
	env := newCLIEnv(t)
	fundedTreasury(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	out, err := env.runContext(ctx, "refresh", "--schedule", "@every 1s")
	require.NoError(t, err)
	assert.Contains(t, out, "Refreshed 1 treasury(ies)")
}

func TestRefresh_InvalidSchedule(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("refresh", "--schedule", "every minute")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid schedule "every minute"`)
}

func TestRefresh_WatchNeedsSchedule(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("refresh", "--watch")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "refresh.schedule")
}

func TestRefresh_WatchFromConfig(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "paystream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh:\n  schedule: \"@every 1s\"\n"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	out, err := env.runContext(ctx, "refresh", "--watch", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Refreshed 0 treasury(ies)")
}
