package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paystream/internal/testutil"
)

// cliEnv runs root commands against one temporary database.
type cliEnv struct {
	t  *testing.T
	db string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{t: t, db: filepath.Join(t.TempDir(), "paystream.db")}
}

// run executes the root command and returns stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	return e.runContext(context.Background(), args...)
}

func (e *cliEnv) runContext(ctx context.Context, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", e.db}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// ok runs a command that must succeed.
func (e *cliEnv) ok(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "output: %s", out)
	return out
}

// payload runs a command with JSON output and returns the response data.
func (e *cliEnv) payload(args ...string) any {
	e.t.Helper()
	out := e.ok(append(args, "--format", "json")...)
	var resp CLIResponse
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(e.t, "ok", resp.Status)
	return resp.Data
}

func (e *cliEnv) data(args ...string) map[string]any {
	e.t.Helper()
	data, ok := e.payload(args...).(map[string]any)
	require.True(e.t, ok, "payload is not an object")
	return data
}

func (e *cliEnv) list(args ...string) []any {
	e.t.Helper()
	data, ok := e.payload(args...).([]any)
	require.True(e.t, ok, "payload is not a list")
	return data
}

// units reads the raw units of a rendered Amount field.
func units(t *testing.T, data map[string]any, field string) float64 {
	t.Helper()
	amount, ok := data[field].(map[string]any)
	require.True(t, ok, "%s is %T", field, data[field])
	return amount["units"].(float64)
}

func addr(name string) string {
	return testutil.NamedKey(name).String()
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "paystream", cmd.Use)
	assert.Contains(t, cmd.Long, "payment streams")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"treasury", "create"},
		{"treasury", "add-funds"},
		{"treasury", "withdraw"},
		{"treasury", "close"},
		{"treasury", "refresh"},
		{"treasury", "show"},
		{"treasury", "list"},
		{"stream", "create"},
		{"stream", "withdraw"},
		{"stream", "allocate"},
		{"stream", "pause"},
		{"stream", "resume"},
		{"stream", "close"},
		{"stream", "transfer"},
		{"stream", "show"},
		{"fund"},
		{"balances"},
		{"events"},
		{"refresh"},
		{"verify"},
		{"test"},
		{"validate"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}

	trace, _, err := cmd.Find([]string{"trace"})
	require.NoError(t, err)
	assert.Equal(t, "events", trace.Name())
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("balances", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestInvalidAddress(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("treasury", "show", "not-a-key")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid treasury address "not-a-key"`)
}

func TestInvalidConfig(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("balances", "--config", "../config/testdata/missing-dir/paystream.yaml", "--format", "json")
	// a missing config file falls back to defaults
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "paystream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: {level: loud}\n"), 0644))
	_, err = env.run("balances", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
