package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/fees"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "paystream.db", cfg.Database.Path)
	assert.Equal(t, fees.Default(), cfg.Fees)
	assert.Equal(t, int32(6), cfg.Mint.Decimals)
	require.NoError(t, cfg.Validate())

	collector, err := cfg.Collector()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultFeeCollector, collector)
}

func TestLoad_FileOverridesOnlyWhatItSets(t *testing.T) {
	cfg, err := Load("testdata/paystream.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/paystream/ledger.db", cfg.Database.Path)
	assert.Equal(t, uint64(5_000), cfg.Fees.WithdrawPercent)
	assert.Zero(t, cfg.Fees.CloseStreamFlat)
	// untouched fees keep their defaults
	assert.Equal(t, fees.Default().AddFundsFlat, cfg.Fees.AddFundsFlat)
	assert.Equal(t, fees.DefaultPercentDenominator, cfg.Fees.PercentDenominator)
	assert.Equal(t, int32(9), cfg.Mint.Decimals)
	assert.Equal(t, "*/5 * * * *", cfg.Refresh.Schedule)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAYSTREAM_DB", "/tmp/env.db")
	t.Setenv("PAYSTREAM_LOG_LEVEL", "warn")
	t.Setenv("PAYSTREAM_MINT_DECIMALS", "2")

	cfg, err := Load("testdata/paystream.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, int32(2), cfg.Mint.Decimals)
}

func TestLoad_BadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fees: [1, 2"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	t.Setenv("PAYSTREAM_MINT_DECIMALS", "six")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero denominator", func(c *Config) { c.Fees.PercentDenominator = 0 }},
		{"percent above denominator", func(c *Config) { c.Fees.CloseStreamPercent = c.Fees.PercentDenominator + 1 }},
		{"collector not base58", func(c *Config) { c.FeeCollector = "not-a-key-0OIl" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative decimals", func(c *Config) { c.Mint.Decimals = -1 }},
		{"bad cron", func(c *Config) { c.Refresh.Schedule = "every minute" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
