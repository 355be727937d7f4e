package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = "../config/testdata/paystream.yaml"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paystream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidate_Valid(t *testing.T) {
	env := newCLIEnv(t)

	out := env.ok("validate", validConfig)
	assert.Contains(t, out, "✓ Config valid")
	assert.NotContains(t, out, "Mint decimals")

	out = env.ok("validate", validConfig, "--verbose")
	assert.Contains(t, out, "Database:      "+env.db)
	assert.Contains(t, out, "Mint decimals: 9")
	assert.Contains(t, out, "Refresh:       */5 * * * *")
}

func TestValidate_ConfigFlag(t *testing.T) {
	env := newCLIEnv(t)
	assert.Contains(t, env.ok("validate", "--config", validConfig), "✓ Config valid")

	// no file at all validates the defaults
	assert.Contains(t, env.ok("validate"), "✓ Config valid")
}

func TestValidate_JSON(t *testing.T) {
	env := newCLIEnv(t)

	d := env.data("validate", validConfig)
	assert.Equal(t, true, d["valid"])
	assert.Equal(t, validConfig, d["path"])
	cfg, ok := d["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "3TD6SWY9M1mLY2kZWJNavPLhwXvcRsWdnZLRaMzERJBw", cfg["fee_collector"])
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown log level", "log: {level: loud}\n", "loud"},
		{"fee above denominator", "fees: {withdraw_percent: 2000000}\n", "withdraw_percent"},
		{"bad collector", "fee_collector: not-base58\n", "fee_collector"},
		{"bad schedule", "refresh: {schedule: \"every minute\"}\n", "schedule"},
		{"not yaml", "log: [\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)
			path := writeConfig(t, tt.content)

			out, err := env.run("validate", path)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "✗ Validation failed")
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestValidate_InvalidJSON(t *testing.T) {
	env := newCLIEnv(t)
	path := writeConfig(t, "log: {level: loud}\n")

	out, err := env.run("validate", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_INVALID_CONFIG", resp.Error.Code)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, data["valid"])
	assert.NotEmpty(t, data["errors"])
}

func TestValidate_MissingFile(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("validate", "/nonexistent/paystream.yaml", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E_CONFIG_NOT_FOUND")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_CONFIG_NOT_FOUND", resp.Error.Code)
}
