package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Token string // optional - specific operation only
}

// TokenResult holds the verification result for one operation's events.
type TokenResult struct {
	Token    string   `json:"token"`
	Kinds    []string `json:"kinds"`
	Events   int      `json:"events"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// VerifyResult holds the overall verification result.
type VerifyResult struct {
	Tokens      []TokenResult `json:"tokens"`
	TotalEvents int           `json:"total_events"`
	TotalTokens int           `json:"total_tokens"`
	AllValid    bool          `json:"all_valid"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the event log",
		Long: `Re-read the event log and verify it has not been altered.

Every event ID is recomputed from the event's content, sequence numbers
must strictly increase, and the events of one operation (one token) must
be contiguous.

Exit codes:
  0 - The log is intact
  1 - Verification failed (altered or misordered events)
  2 - Command error (database not found, etc.)

Examples:
  paystream verify --db ./paystream.db
  paystream verify --db ./paystream.db --token <token>
  paystream verify --db ./paystream.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return runVerify(ctx, opts, s.store, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "verify one operation's events only")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, st *store.Store, cmd *cobra.Command) error {
	events, err := st.ListEvents(ctx, store.EventFilter{Token: opts.Token})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read event log", err)
	}

	result := verifyEvents(events)

	if opts.Format == "json" {
		return outputVerifyJSON(cmd, result)
	}
	return outputVerifyText(cmd, result, opts.Verbose)
}

// verifyEvents checks a seq-ordered event list and groups the outcome by
// token, in order of first appearance.
func verifyEvents(events []event.Event) VerifyResult {
	result := VerifyResult{
		Tokens:      []TokenResult{},
		TotalEvents: len(events),
		AllValid:    true,
	}

	index := make(map[string]int)
	var (
		prevSeq   int64
		prevToken string
	)
	for i, ev := range events {
		at, seen := index[ev.Token]
		if !seen {
			at = len(result.Tokens)
			index[ev.Token] = at
			result.Tokens = append(result.Tokens, TokenResult{Token: ev.Token, Valid: true})
		}
		tr := &result.Tokens[at]
		tr.Events++
		tr.Kinds = append(tr.Kinds, string(ev.Kind))

		var problems []string
		id, err := event.ComputeID(ev)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("seq %d: cannot hash event: %v", ev.Seq, err))
		case id != ev.ID:
			problems = append(problems, fmt.Sprintf("seq %d: id %s does not match content (want %s)", ev.Seq, truncateID(ev.ID), truncateID(id)))
		}
		if i > 0 && ev.Seq <= prevSeq {
			problems = append(problems, fmt.Sprintf("seq %d: not after seq %d", ev.Seq, prevSeq))
		}
		if seen && prevToken != ev.Token {
			problems = append(problems, fmt.Sprintf("seq %d: events of the operation are not contiguous", ev.Seq))
		}

		if len(problems) > 0 {
			tr.Problems = append(tr.Problems, problems...)
			tr.Valid = false
			result.AllValid = false
		}
		prevSeq, prevToken = ev.Seq, ev.Token
	}

	result.TotalTokens = len(result.Tokens)
	return result
}

// outputVerifyJSON outputs the verification result as JSON.
func outputVerifyJSON(cmd *cobra.Command, result VerifyResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllValid {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_INTEGRITY",
			Message: "event log verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllValid {
		return NewExitError(ExitFailure, "event log verification failed")
	}
	return nil
}

// outputVerifyText outputs the verification result as text.
func outputVerifyText(cmd *cobra.Command, result VerifyResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.TotalEvents == 0 {
		fmt.Fprintln(w, "No events found in database.")
		return nil
	}

	fmt.Fprintf(w, "Verify Summary: %d event(s), %d operation(s)\n", result.TotalEvents, result.TotalTokens)
	fmt.Fprintln(w)

	for _, tr := range result.Tokens {
		if tr.Valid && !verbose {
			continue
		}
		writeTokenResult(w, tr)
	}

	if result.AllValid {
		fmt.Fprintln(w, "✓ Event log intact")
		return nil
	}

	fmt.Fprintln(w, "✗ Event log verification failed")
	return NewExitError(ExitFailure, "event log verification failed")
}

func writeTokenResult(w io.Writer, tr TokenResult) {
	status := "✓"
	if !tr.Valid {
		status = "✗"
	}
	fmt.Fprintf(w, "%s Operation: %s\n", status, tr.Token)
	fmt.Fprintf(w, "  Events: %v\n", tr.Kinds)
	for _, p := range tr.Problems {
		fmt.Fprintf(w, "  %s\n", p)
	}
	fmt.Fprintln(w)
}
