// Package config loads paystream configuration from a YAML file with
// environment overrides, and validates it against an embedded CUE schema.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/fees"
)

//go:embed schema.cue
var schemaCUE string

// Config holds all application configuration.
type Config struct {
	Database struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"database" json:"database"`
	Fees         fees.Schedule `yaml:"fees" json:"fees"`
	FeeCollector string        `yaml:"fee_collector" json:"fee_collector,omitempty"`
	Mint         struct {
		// Decimals is used only to render raw units as token amounts.
		Decimals int32 `yaml:"decimals" json:"decimals"`
	} `yaml:"mint" json:"mint"`
	Refresh struct {
		Schedule string `yaml:"schedule" json:"schedule,omitempty"`
	} `yaml:"refresh" json:"refresh"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Fees: fees.Default()}
	cfg.Database.Path = "paystream.db"
	cfg.Mint.Decimals = 6
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads config from a YAML file, then applies environment variable
// overrides. Fields the file leaves out keep their defaults. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PAYSTREAM_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PAYSTREAM_FEE_COLLECTOR"); v != "" {
		cfg.FeeCollector = v
	}
	if v := os.Getenv("PAYSTREAM_REFRESH_SCHEDULE"); v != "" {
		cfg.Refresh.Schedule = v
	}
	if v := os.Getenv("PAYSTREAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PAYSTREAM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PAYSTREAM_MINT_DECIMALS"); v != "" {
		d, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("PAYSTREAM_MINT_DECIMALS: %w", err)
		}
		cfg.Mint.Decimals = int32(d)
	}

	return cfg, nil
}

// Validate checks the configuration against the embedded schema, then the
// parts the schema cannot express.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	// Round-trip through JSON so the schema sees the same field names as
	// the file.
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	value := ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}

	if err := c.Fees.Validate(); err != nil {
		return fmt.Errorf("invalid config: fees: %w", err)
	}
	if c.FeeCollector != "" {
		if _, err := solana.PublicKeyFromBase58(c.FeeCollector); err != nil {
			return fmt.Errorf("invalid config: fee_collector: %w", err)
		}
	}
	if c.Refresh.Schedule != "" {
		if _, err := cron.ParseStandard(c.Refresh.Schedule); err != nil {
			return fmt.Errorf("invalid config: refresh.schedule: %w", err)
		}
	}
	return nil
}

// Collector returns the configured fee collector, or the default one.
func (c *Config) Collector() (solana.PublicKey, error) {
	if c.FeeCollector == "" {
		return engine.DefaultFeeCollector, nil
	}
	return solana.PublicKeyFromBase58(c.FeeCollector)
}

// Logger builds the structured logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
