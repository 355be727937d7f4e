package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paystream/internal/harness"
)

const scenariosDir = "../harness/testdata"

const failingScenario = `name: wrong_expectation
description: "Expects a rejection that never happens"
setup:
  - op: fund_fee
    args: { account: alice, amount: 1000000 }
steps:
  - op: create_treasury
    args: { treasury: payroll, payer: alice, treasurer: alice }
    expect: { error: NOT_AUTHORIZED }
assertions:
  - type: event_count
    kind: create_treasury
    count: 1
`

func TestTestCommand_MissingArgs(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_MissingDir(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()

	assert.Contains(t, env.ok("test", dir), "No scenarios found.")

	out := env.ok("test", dir, "--format", "json")
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommand_Passing(t *testing.T) {
	env := newCLIEnv(t)

	out := env.ok("test", scenariosDir)
	assert.Contains(t, out, "✓ withdraw_basic")
	assert.Contains(t, out, "✓ auto_close")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
	assert.Contains(t, out, "✓ All scenarios passed")

	out = env.ok("test", scenariosDir, "--filter", "withdraw_*", "--format", "json")
	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "withdraw_basic", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_Failing(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(failingScenario), 0644))

	out, err := env.run("test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_expectation")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")

	out, err = env.run("test", dir, "--format", "json")
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommand_Update(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	scenario, err := os.ReadFile(filepath.Join(scenariosDir, "withdraw_basic.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "withdraw_basic.yaml"), scenario, 0644))

	out := env.ok("test", dir, "--update")
	assert.Contains(t, out, "✓ withdraw_basic (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "withdraw_basic.golden"))
	require.NoError(t, err)
	shipped, err := os.ReadFile(filepath.Join(scenariosDir, "golden", "withdraw_basic.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(shipped), string(written))

	assert.Contains(t, env.ok("test", dir), "✓ withdraw_basic\n")
}
