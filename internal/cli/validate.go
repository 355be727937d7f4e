package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/paystream/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Path   string         `json:"path,omitempty"`
	Errors []string       `json:"errors,omitempty"`
	Config *config.Config `json:"config,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file without opening the ledger",
		Long: `Validate a paystream config file against the config schema.

Checks the file parses, that every fee is within its denominator, the
log settings are known values, and that the fee collector and refresh
schedule are well formed. Environment overrides are applied first, so the
result is the configuration the other commands would run with.

Without an argument the file named by --config is validated.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return outputValidateError(formatter, "E_CONFIG_NOT_FOUND", fmt.Sprintf("config file not found: %s", path), nil)
		}
	}
	formatter.VerboseLog("Validating config %q", path)

	cfg, err := config.Load(path)
	if err != nil {
		return outputValidationErrors(formatter, path, []string{err.Error()})
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return outputValidationErrors(formatter, path, []string{err.Error()})
	}

	return outputValidateSuccess(formatter, path, cfg)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, path string, cfg *config.Config) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Path: path, Config: cfg})
	}

	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	if formatter.Verbose {
		fmt.Fprintf(formatter.Writer, "  Database:      %s\n", cfg.Database.Path)
		fmt.Fprintf(formatter.Writer, "  Mint decimals: %d\n", cfg.Mint.Decimals)
		if cfg.Refresh.Schedule != "" {
			fmt.Fprintf(formatter.Writer, "  Refresh:       %s\n", cfg.Refresh.Schedule)
		}
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs validation failures.
func outputValidationErrors(formatter *OutputFormatter, path string, errs []string) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Path:   path,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    "E_INVALID_CONFIG",
				Message: errs[0],
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n\n", e)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
