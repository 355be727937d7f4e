package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	Treasury string
	Stream   string
	Kind     string
	Token    string
	After    int64
	Limit    int
}

// EventsResult holds the listed events.
type EventsResult struct {
	Events []event.Event `json:"events"`
	Total  int           `json:"total"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{}

	cmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"trace"},
		Short:   "List the event log",
		Long: `List committed events in sequence order.

Every successful operation appends one event; an operation that closes an
auto-close treasury appends two under the same token. Filter by treasury,
stream, kind or correlation token to trace a single operation.

Examples:
  paystream events
  paystream events --stream <key> --kind withdraw
  paystream trace --token <token> -v
  paystream events --after 120 --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return runEvents(ctx, s, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Treasury, "treasury", "", "only events of this treasury")
	cmd.Flags().StringVar(&opts.Stream, "stream", "", "only events of this stream")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only events of this kind (e.g. withdraw)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "only events of this correlation token")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runEvents(ctx context.Context, s *session, opts *EventsOptions) error {
	filter := store.EventFilter{
		Kind:     event.Kind(opts.Kind),
		Token:    opts.Token,
		AfterSeq: opts.After,
		Limit:    opts.Limit,
	}
	if opts.Treasury != "" {
		key, err := parseKey("treasury", opts.Treasury)
		if err != nil {
			return err
		}
		filter.Treasury = key.String()
	}
	if opts.Stream != "" {
		key, err := parseKey("stream", opts.Stream)
		if err != nil {
			return err
		}
		filter.Stream = key.String()
	}

	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list events", err)
	}

	result := EventsResult{Events: events, Total: len(events)}
	return s.out.Emit(result, func(w io.Writer) {
		if len(events) == 0 {
			fmt.Fprintln(w, "No events found.")
			return
		}
		for _, ev := range events {
			formatEvent(w, ev, s.out.Verbose)
		}
	})
}

// formatEvent formats a single event for text output.
func formatEvent(w io.Writer, ev event.Event, verbose bool) {
	fmt.Fprintf(w, "  [%d] %s treasury=%s", ev.Seq, ev.Kind, truncateID(ev.Treasury))
	if ev.Stream != "" {
		fmt.Fprintf(w, " stream=%s", truncateID(ev.Stream))
	}
	fmt.Fprintf(w, " t=%d\n", ev.Time)
	if verbose {
		fmt.Fprintf(w, "       Fields: %s\n", formatFields(ev.Fields))
		fmt.Fprintf(w, "       Token: %s\n", ev.Token)
		fmt.Fprintf(w, "       ID: %s\n", truncateID(ev.ID))
	}
}

// formatFields formats event fields for display.
// Uses sorted keys to ensure deterministic output.
func formatFields(fields event.Fields) string {
	if len(fields) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
