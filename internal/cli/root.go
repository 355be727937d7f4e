package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/roach88/paystream/internal/config"
	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/host"
	"github.com/roach88/paystream/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string
	Database string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the paystream CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "paystream",
		Short: "paystream - treasury-backed payment streams",
		Long: `A local ledger for payment streams.

Treasuries hold a pool of funds; streams release a share of that pool to a
beneficiary at a fixed rate. Every operation runs in one sqlite transaction
and appends its notification events to the event log.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewTreasuryCommand(opts))
	cmd.AddCommand(NewStreamCommand(opts))
	cmd.AddCommand(NewFundCommand(opts))
	cmd.AddCommand(NewBalancesCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session is what a ledger command works with: the loaded config, the open
// store and a host over it.
type session struct {
	cfg    *config.Config
	store  *store.Store
	host   *host.Host
	logger *slog.Logger
	out    *OutputFormatter
}

// loadConfig reads and validates the config named by --config, applying
// --db on top.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSession loads the config, opens the store and builds the host. With
// --verbose committed events are also logged to stderr.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	collector, err := cfg.Collector()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid fee collector", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	logger := cfg.Logger(cmd.ErrOrStderr())
	hostOpts := []host.Option{
		host.WithLogger(logger),
		host.WithFeeCollector(collector),
	}
	if opts.Verbose {
		hostOpts = append(hostOpts, host.WithSink(event.LogSink{Logger: logger}))
	}
	h, err := host.New(ctx, st, cfg.Fees, hostOpts...)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start host", err)
	}

	return &session{
		cfg:    cfg,
		store:  st,
		host:   h,
		logger: logger,
		out:    newFormatter(opts, cmd),
	}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// amount renders units with the configured mint decimals.
func (s *session) amount(units uint64) Amount {
	return NewAmount(units, s.cfg.Mint.Decimals)
}

// parseAmount reads a funding-unit amount flag.
func (s *session) parseAmount(text string) (uint64, error) {
	return ParseAmount(text, s.cfg.Mint.Decimals)
}

// failed reports an operation error. Rejected operations exit with
// ExitFailure and their code; anything else is a command error.
func (s *session) failed(err error) error {
	var opErr *engine.OpError
	if errors.As(err, &opErr) {
		_ = s.out.Error(string(opErr.Code), opErr.Error(), nil)
		return WrapExitError(ExitFailure, fmt.Sprintf("%s rejected", opErr.Op), err)
	}
	return WrapExitError(ExitCommandError, "operation failed", err)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// parseKey reads a base58 account address argument or flag.
func parseKey(name, text string) (solana.PublicKey, error) {
	if text == "" {
		return solana.PublicKey{}, NewExitError(ExitCommandError, fmt.Sprintf("%s is required", name))
	}
	key, err := solana.PublicKeyFromBase58(text)
	if err != nil {
		return solana.PublicKey{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid %s address %q", name, text), err)
	}
	return key, nil
}

// optionalKey is parseKey for flags that default to another account.
func optionalKey(name, text string, fallback solana.PublicKey) (solana.PublicKey, error) {
	if text == "" {
		return fallback, nil
	}
	return parseKey(name, text)
}

// newAddress picks the address for a new record: the given one, or a fresh
// random key.
func newAddress(name, text string) (solana.PublicKey, error) {
	if text != "" {
		return parseKey(name, text)
	}
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, WrapExitError(ExitCommandError, "failed to generate address", err)
	}
	return priv.PublicKey(), nil
}
