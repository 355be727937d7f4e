package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/stream"
)

// StreamView is the derived state of a stream plus its parties.
type StreamView struct {
	Address     string `json:"address"`
	Treasury    string `json:"treasury"`
	Treasurer   string `json:"treasurer"`
	Beneficiary string `json:"beneficiary"`
	stream.View
	Withdrawable Amount `json:"withdrawable"`
	Remaining    Amount `json:"remaining"`
}

func writeStream(w io.Writer, v StreamView) {
	fmt.Fprintf(w, "Stream %s\n", v.Address)
	fmt.Fprintf(w, "  Name:         %s\n", v.Name)
	fmt.Fprintf(w, "  Treasury:     %s\n", v.Treasury)
	fmt.Fprintf(w, "  Beneficiary:  %s\n", v.Beneficiary)
	status := v.Status
	if v.IsManualPause {
		status += " (manual)"
	}
	fmt.Fprintf(w, "  Status:       %s\n", status)
	fmt.Fprintf(w, "  Rate:         %d units / %ds\n", v.RateAmountUnits, v.RateIntervalInSeconds)
	fmt.Fprintf(w, "  Start:        %d\n", v.StartUTC)
	fmt.Fprintf(w, "  Cliff:        %d units\n", v.CliffUnits)
	fmt.Fprintf(w, "  Allocation:   %d units\n", v.AllocationAssignedUnits)
	fmt.Fprintf(w, "  Withdrawn:    %d units\n", v.TotalWithdrawalsUnits)
	fmt.Fprintf(w, "  Withdrawable: %s\n", v.Withdrawable)
	fmt.Fprintf(w, "  Remaining:    %s\n", v.Remaining)
	if v.EstDepletionTime > 0 {
		fmt.Fprintf(w, "  Depletes at:  %d\n", v.EstDepletionTime)
	}
	if v.LastKnownTotalSecondsPaused > 0 {
		fmt.Fprintf(w, "  Paused for:   %ds\n", v.LastKnownTotalSecondsPaused)
	}
}

// showStream prints the stream as seen at the current clock tick.
func (s *session) showStream(ctx context.Context, key solana.PublicKey) error {
	record, err := s.store.Stream(ctx, key)
	if err != nil {
		return s.failed(storeLookupError("stream", key, err))
	}
	view, err := s.host.GetStream(ctx, key)
	if err != nil {
		return s.failed(err)
	}
	out := StreamView{
		Address:      key.String(),
		Treasury:     record.Treasury.String(),
		Treasurer:    record.Treasurer.String(),
		Beneficiary:  record.Beneficiary.String(),
		View:         view,
		Withdrawable: s.amount(view.WithdrawableAmount),
		Remaining:    s.amount(view.RemainingAllocation),
	}
	return s.out.Emit(out, func(w io.Writer) { writeStream(w, out) })
}

// NewStreamCommand creates the stream command group.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Create and operate payment streams",
	}

	cmd.AddCommand(newStreamCreateCommand(rootOpts))
	cmd.AddCommand(newStreamWithdrawCommand(rootOpts))
	cmd.AddCommand(newStreamAllocateCommand(rootOpts))
	cmd.AddCommand(newStreamPauseCommand(rootOpts, true))
	cmd.AddCommand(newStreamPauseCommand(rootOpts, false))
	cmd.AddCommand(newStreamCloseCommand(rootOpts))
	cmd.AddCommand(newStreamTransferCommand(rootOpts))
	cmd.AddCommand(newStreamShowCommand(rootOpts))

	return cmd
}

type streamCreateOptions struct {
	Address          string
	Payer            string
	Treasurer        string
	Beneficiary      string
	Name             string
	Start            uint64
	Rate             string
	Interval         uint64
	Allocation       string
	Cliff            string
	CliffPercent     uint64
	TreasurerPaysFee bool
}

func newStreamCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &streamCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create <treasury>",
		Short: "Create a stream backed by a treasury",
		Long: `Reserve part of a treasury's unallocated balance for a new stream.

The stream releases --rate every --interval seconds from --start (unix
seconds, default now). A cliff is paid out at start, either as an amount
(--cliff) or in parts per million of the allocation (--cliff-percent).

Examples:
  paystream stream create <treasury> --treasurer <key> --beneficiary <key> \
    --rate 1 --interval 60 --allocation 1000
  paystream stream create <treasury> --treasurer <key> --beneficiary <key> \
    --rate 0 --interval 0 --allocation 500 --cliff 500`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return runStreamCreate(ctx, s, args[0], opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "stream address (default: generated)")
	cmd.Flags().StringVar(&opts.Treasurer, "treasurer", "", "treasurer account (required)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "account paying the creation fee (default: treasurer)")
	cmd.Flags().StringVar(&opts.Beneficiary, "beneficiary", "", "beneficiary account (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "stream name")
	cmd.Flags().Uint64Var(&opts.Start, "start", 0, "start time in unix seconds (default: now)")
	cmd.Flags().StringVar(&opts.Rate, "rate", "0", "amount released per interval")
	cmd.Flags().Uint64Var(&opts.Interval, "interval", 0, "rate interval in seconds")
	cmd.Flags().StringVar(&opts.Allocation, "allocation", "", "amount reserved for the stream (required)")
	cmd.Flags().StringVar(&opts.Cliff, "cliff", "0", "amount released at start")
	cmd.Flags().Uint64Var(&opts.CliffPercent, "cliff-percent", 0, "cliff as parts per million of the allocation")
	cmd.Flags().BoolVar(&opts.TreasurerPaysFee, "treasurer-pays-fee", false, "prepay the withdraw fee from the treasury")
	_ = cmd.MarkFlagRequired("treasurer")
	_ = cmd.MarkFlagRequired("beneficiary")
	_ = cmd.MarkFlagRequired("allocation")

	return cmd
}

func runStreamCreate(ctx context.Context, s *session, treasuryArg string, opts *streamCreateOptions) error {
	treasuryKey, err := parseKey("treasury", treasuryArg)
	if err != nil {
		return err
	}
	treasurer, err := parseKey("treasurer", opts.Treasurer)
	if err != nil {
		return err
	}
	payer, err := optionalKey("payer", opts.Payer, treasurer)
	if err != nil {
		return err
	}
	beneficiary, err := parseKey("beneficiary", opts.Beneficiary)
	if err != nil {
		return err
	}
	key, err := newAddress("stream", opts.Address)
	if err != nil {
		return err
	}

	rate, err := s.parseAmount(opts.Rate)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --rate", err)
	}
	allocation, err := s.parseAmount(opts.Allocation)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --allocation", err)
	}
	cliff, err := s.parseAmount(opts.Cliff)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --cliff", err)
	}

	_, err = s.host.CreateStream(ctx, treasuryKey, engine.CreateStreamRequest{
		Key:                     key,
		Payer:                   payer,
		Treasurer:               treasurer,
		Beneficiary:             beneficiary,
		Name:                    opts.Name,
		StartUTC:                opts.Start,
		RateAmountUnits:         rate,
		RateIntervalInSeconds:   opts.Interval,
		AllocationAssignedUnits: allocation,
		CliffVestAmountUnits:    cliff,
		CliffVestPercent:        opts.CliffPercent,
		FeePayedByTreasurer:     opts.TreasurerPaysFee,
	})
	if err != nil {
		return s.failed(err)
	}
	return s.showStream(ctx, key)
}

type streamAmountOptions struct {
	Account string
	Amount  string
}

func newStreamWithdrawCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &streamAmountOptions{}

	cmd := &cobra.Command{
		Use:           "withdraw <stream>",
		Short:         "Withdraw vested funds as the beneficiary",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("stream", args[0])
				if err != nil {
					return err
				}
				beneficiary, err := parseKey("beneficiary", opts.Account)
				if err != nil {
					return err
				}
				amount, err := s.parseAmount(opts.Amount)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --amount", err)
				}
				err = s.host.Withdraw(ctx, key, engine.WithdrawRequest{Beneficiary: beneficiary, Amount: amount})
				if err != nil {
					return s.failed(err)
				}
				return s.showStream(ctx, key)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Account, "beneficiary", "", "beneficiary account (required)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount to withdraw; capped at what is withdrawable (required)")
	_ = cmd.MarkFlagRequired("beneficiary")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newStreamAllocateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &streamAmountOptions{}

	cmd := &cobra.Command{
		Use:           "allocate <stream>",
		Short:         "Add unallocated treasury funds to a stream",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("stream", args[0])
				if err != nil {
					return err
				}
				treasurer, err := parseKey("treasurer", opts.Account)
				if err != nil {
					return err
				}
				amount, err := s.parseAmount(opts.Amount)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --amount", err)
				}
				err = s.host.Allocate(ctx, key, engine.AllocateRequest{Treasurer: treasurer, Amount: amount})
				if err != nil {
					return s.failed(err)
				}
				return s.showStream(ctx, key)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Account, "treasurer", "", "treasurer account (required)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount to allocate (required)")
	_ = cmd.MarkFlagRequired("treasurer")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

// newStreamPauseCommand builds "pause" or, with pause unset, "resume".
func newStreamPauseCommand(rootOpts *RootOptions, pause bool) *cobra.Command {
	var caller string
	use, short := "resume <stream>", "Resume a manually paused stream"
	if pause {
		use, short = "pause <stream>", "Pause a running stream"
	}

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          short + ".\n\nOnly the treasurer may call it, and not on a locked treasury.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("stream", args[0])
				if err != nil {
					return err
				}
				who, err := parseKey("caller", caller)
				if err != nil {
					return err
				}
				if pause {
					err = s.host.PauseStream(ctx, key, who)
				} else {
					err = s.host.ResumeStream(ctx, key, who)
				}
				if err != nil {
					return s.failed(err)
				}
				return s.showStream(ctx, key)
			})
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "treasurer account (required)")
	_ = cmd.MarkFlagRequired("caller")

	return cmd
}

type streamCloseOptions struct {
	Treasurer string
	Payer     string
}

func newStreamCloseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &streamCloseOptions{}

	cmd := &cobra.Command{
		Use:   "close <stream>",
		Short: "Close a stream",
		Long: `Pay the beneficiary what is withdrawable, return the rest of the
allocation to the treasury and delete the stream. An auto-close treasury is
closed with its last stream.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("stream", args[0])
				if err != nil {
					return err
				}
				treasurer, err := parseKey("treasurer", opts.Treasurer)
				if err != nil {
					return err
				}
				payer, err := optionalKey("payer", opts.Payer, treasurer)
				if err != nil {
					return err
				}
				err = s.host.CloseStream(ctx, key, engine.CloseStreamRequest{Treasurer: treasurer, Payer: payer})
				if err != nil {
					return s.failed(err)
				}
				result := map[string]string{"closed": key.String()}
				return s.out.Emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Closed stream %s\n", key)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Treasurer, "treasurer", "", "treasurer account (required)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "account paying the close fee (default: treasurer)")
	_ = cmd.MarkFlagRequired("treasurer")

	return cmd
}

type streamTransferOptions struct {
	Beneficiary string
	To          string
}

func newStreamTransferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &streamTransferOptions{}

	cmd := &cobra.Command{
		Use:           "transfer <stream>",
		Short:         "Hand a stream to a new beneficiary",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("stream", args[0])
				if err != nil {
					return err
				}
				beneficiary, err := parseKey("beneficiary", opts.Beneficiary)
				if err != nil {
					return err
				}
				to, err := parseKey("new beneficiary", opts.To)
				if err != nil {
					return err
				}
				err = s.host.TransferStream(ctx, key, engine.TransferStreamRequest{
					Beneficiary:    beneficiary,
					NewBeneficiary: to,
				})
				if err != nil {
					return s.failed(err)
				}
				return s.showStream(ctx, key)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Beneficiary, "beneficiary", "", "current beneficiary (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "new beneficiary (required)")
	_ = cmd.MarkFlagRequired("beneficiary")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newStreamShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <stream>",
		Short:         "Show the current state of a stream",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("stream", args[0])
				if err != nil {
					return err
				}
				return s.showStream(ctx, key)
			})
		},
	}
}
