package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/store"
	"github.com/roach88/paystream/internal/treasury"
)

// TreasuryView is the rendered state of one treasury.
type TreasuryView struct {
	Address          string   `json:"address"`
	Name             string   `json:"name"`
	Treasurer        string   `json:"treasurer"`
	Mint             string   `json:"mint"`
	Holding          string   `json:"holding"`
	Type             string   `json:"type"`
	Category         string   `json:"category"`
	AutoClose        bool     `json:"auto_close"`
	TreasuryPaysFees bool     `json:"treasury_pays_fees"`
	Balance          Amount   `json:"balance"`
	BalanceTime      uint64   `json:"balance_time"`
	Allocation       Amount   `json:"allocation"`
	Unallocated      Amount   `json:"unallocated"`
	TotalWithdrawals Amount   `json:"total_withdrawals"`
	TotalStreams     uint64   `json:"total_streams"`
	CreatedOnUTC     uint64   `json:"created_on_utc"`
	Streams          []string `json:"streams,omitempty"`
}

func (s *session) treasuryView(key solana.PublicKey, t *treasury.Treasury) TreasuryView {
	unallocated, err := t.Unallocated()
	if err != nil {
		unallocated = 0
	}
	return TreasuryView{
		Address:          key.String(),
		Name:             t.DisplayName(),
		Treasurer:        t.Treasurer.String(),
		Mint:             t.Mint.String(),
		Holding:          t.Holding.String(),
		Type:             t.Type.String(),
		Category:         t.Category.String(),
		AutoClose:        t.AutoClose,
		TreasuryPaysFees: t.SolFeePayedByTreasury,
		Balance:          s.amount(t.LastKnownBalanceUnits),
		BalanceTime:      t.LastKnownBalanceBlockTime,
		Allocation:       s.amount(t.AllocationAssignedUnits),
		Unallocated:      s.amount(unallocated),
		TotalWithdrawals: s.amount(t.TotalWithdrawalsUnits),
		TotalStreams:     t.TotalStreams,
		CreatedOnUTC:     t.CreatedOnUTC,
	}
}

func writeTreasury(w io.Writer, v TreasuryView) {
	fmt.Fprintf(w, "Treasury %s\n", v.Address)
	fmt.Fprintf(w, "  Name:              %s\n", v.Name)
	fmt.Fprintf(w, "  Treasurer:         %s\n", v.Treasurer)
	fmt.Fprintf(w, "  Mint:              %s\n", v.Mint)
	fmt.Fprintf(w, "  Type:              %s (%s)\n", v.Type, v.Category)
	fmt.Fprintf(w, "  Auto close:        %t\n", v.AutoClose)
	fmt.Fprintf(w, "  Pays own fees:     %t\n", v.TreasuryPaysFees)
	fmt.Fprintf(w, "  Balance:           %s\n", v.Balance)
	fmt.Fprintf(w, "  Allocated:         %s\n", v.Allocation)
	fmt.Fprintf(w, "  Unallocated:       %s\n", v.Unallocated)
	fmt.Fprintf(w, "  Total withdrawals: %s\n", v.TotalWithdrawals)
	fmt.Fprintf(w, "  Streams:           %d\n", v.TotalStreams)
	for _, st := range v.Streams {
		fmt.Fprintf(w, "    %s\n", st)
	}
}

// NewTreasuryCommand creates the treasury command group.
func NewTreasuryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "treasury",
		Short: "Create, fund and close treasuries",
	}

	cmd.AddCommand(newTreasuryCreateCommand(rootOpts))
	cmd.AddCommand(newTreasuryAddFundsCommand(rootOpts))
	cmd.AddCommand(newTreasuryWithdrawCommand(rootOpts))
	cmd.AddCommand(newTreasuryCloseCommand(rootOpts))
	cmd.AddCommand(newTreasuryRefreshCommand(rootOpts))
	cmd.AddCommand(newTreasuryShowCommand(rootOpts))
	cmd.AddCommand(newTreasuryListCommand(rootOpts))

	return cmd
}

// withSession opens a session for the duration of fn.
func withSession(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// showTreasury prints the stored treasury together with its streams.
func (s *session) showTreasury(ctx context.Context, key solana.PublicKey) error {
	t, err := s.store.Treasury(ctx, key)
	if err != nil {
		return s.failed(storeLookupError("treasury", key, err))
	}
	view := s.treasuryView(key, t)
	streams, err := s.store.ListStreams(ctx, key)
	if err != nil {
		return s.failed(err)
	}
	for _, r := range streams {
		view.Streams = append(view.Streams, r.Key.String())
	}
	return s.out.Emit(view, func(w io.Writer) { writeTreasury(w, view) })
}

// storeLookupError turns a missing record into the operation error the host
// would have returned for it.
func storeLookupError(kind string, key solana.PublicKey, err error) error {
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	code := engine.CodeTreasuryNotInitialized
	if kind == "stream" {
		code = engine.CodeStreamNotInitialized
	}
	return &engine.OpError{Op: "show_" + kind, Code: code, Message: fmt.Sprintf("no %s at %s", kind, key), Err: err}
}

type treasuryCreateOptions struct {
	Address          string
	Payer            string
	Treasurer        string
	Mint             string
	Name             string
	Type             string
	Category         string
	AutoClose        bool
	TreasuryPaysFees bool
}

func newTreasuryCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &treasuryCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty treasury",
		Long: `Create an empty treasury and charge the creation fee to the payer.

The treasury address is generated unless --address is given.

Examples:
  paystream treasury create --treasurer <key> --mint <key> --name payroll
  paystream treasury create --treasurer <key> --mint <key> --type locked --category vesting`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return runTreasuryCreate(ctx, s, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "treasury address (default: generated)")
	cmd.Flags().StringVar(&opts.Treasurer, "treasurer", "", "treasurer account (required)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "account paying the creation fee (default: treasurer)")
	cmd.Flags().StringVar(&opts.Mint, "mint", "", "mint of the funding unit (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "treasury name")
	cmd.Flags().StringVar(&opts.Type, "type", "open", "treasury type (open|locked)")
	cmd.Flags().StringVar(&opts.Category, "category", "default", "treasury category (default|vesting)")
	cmd.Flags().BoolVar(&opts.AutoClose, "auto-close", false, "close the treasury when its last stream closes")
	cmd.Flags().BoolVar(&opts.TreasuryPaysFees, "treasury-pays-fees", false, "draw flat fees from the treasury's own reserve")
	_ = cmd.MarkFlagRequired("treasurer")
	_ = cmd.MarkFlagRequired("mint")

	return cmd
}

func runTreasuryCreate(ctx context.Context, s *session, opts *treasuryCreateOptions) error {
	treasurer, err := parseKey("treasurer", opts.Treasurer)
	if err != nil {
		return err
	}
	payer, err := optionalKey("payer", opts.Payer, treasurer)
	if err != nil {
		return err
	}
	mint, err := parseKey("mint", opts.Mint)
	if err != nil {
		return err
	}
	key, err := newAddress("treasury", opts.Address)
	if err != nil {
		return err
	}
	typ, err := treasury.ParseType(opts.Type)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --type", err)
	}
	category, err := treasury.ParseCategory(opts.Category)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --category", err)
	}

	t, err := s.host.CreateTreasury(ctx, engine.CreateTreasuryRequest{
		Key:                   key,
		Payer:                 payer,
		Treasurer:             treasurer,
		Mint:                  mint,
		Name:                  opts.Name,
		Type:                  typ,
		AutoClose:             opts.AutoClose,
		SolFeePayedByTreasury: opts.TreasuryPaysFees,
		Category:              category,
	})
	if err != nil {
		return s.failed(err)
	}
	view := s.treasuryView(key, t)
	return s.out.Emit(view, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Created treasury %s\n", key)
		writeTreasury(w, view)
	})
}

type treasuryAddFundsOptions struct {
	Contributor string
	Payer       string
	Amount      string
}

func newTreasuryAddFundsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &treasuryAddFundsOptions{}

	cmd := &cobra.Command{
		Use:   "add-funds <treasury>",
		Short: "Deposit funds into a treasury",
		Long: `Move funds from the contributor's holding into the treasury.

Amounts are token amounts ("12.5"); append "u" for raw units ("12500000u").`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("treasury", args[0])
				if err != nil {
					return err
				}
				contributor, err := parseKey("contributor", opts.Contributor)
				if err != nil {
					return err
				}
				payer, err := optionalKey("payer", opts.Payer, contributor)
				if err != nil {
					return err
				}
				amount, err := s.parseAmount(opts.Amount)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --amount", err)
				}
				err = s.host.AddFunds(ctx, key, engine.AddFundsRequest{
					Contributor: contributor,
					Payer:       payer,
					Amount:      amount,
				})
				if err != nil {
					return s.failed(err)
				}
				return s.showTreasury(ctx, key)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Contributor, "contributor", "", "account whose holding is debited (required)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "account paying the flat fee (default: contributor)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount to deposit (required)")
	_ = cmd.MarkFlagRequired("contributor")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

type treasuryWithdrawOptions struct {
	Treasurer   string
	Destination string
	Amount      string
}

func newTreasuryWithdrawCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &treasuryWithdrawOptions{}

	cmd := &cobra.Command{
		Use:           "withdraw <treasury>",
		Short:         "Withdraw unallocated funds from a treasury",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("treasury", args[0])
				if err != nil {
					return err
				}
				treasurer, err := parseKey("treasurer", opts.Treasurer)
				if err != nil {
					return err
				}
				destination, err := optionalKey("destination", opts.Destination, treasurer)
				if err != nil {
					return err
				}
				amount, err := s.parseAmount(opts.Amount)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --amount", err)
				}
				err = s.host.TreasuryWithdraw(ctx, key, engine.TreasuryWithdrawRequest{
					Treasurer:   treasurer,
					Destination: destination,
					Amount:      amount,
				})
				if err != nil {
					return s.failed(err)
				}
				return s.showTreasury(ctx, key)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Treasurer, "treasurer", "", "treasurer account (required)")
	cmd.Flags().StringVar(&opts.Destination, "destination", "", "account receiving the funds (default: treasurer)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount to withdraw (required)")
	_ = cmd.MarkFlagRequired("treasurer")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

type treasuryCloseOptions struct {
	Treasurer   string
	Destination string
	Payer       string
}

func newTreasuryCloseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &treasuryCloseOptions{}

	cmd := &cobra.Command{
		Use:           "close <treasury>",
		Short:         "Close a treasury that backs no streams",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("treasury", args[0])
				if err != nil {
					return err
				}
				treasurer, err := parseKey("treasurer", opts.Treasurer)
				if err != nil {
					return err
				}
				destination, err := optionalKey("destination", opts.Destination, treasurer)
				if err != nil {
					return err
				}
				payer, err := optionalKey("payer", opts.Payer, treasurer)
				if err != nil {
					return err
				}
				err = s.host.CloseTreasury(ctx, key, engine.CloseTreasuryRequest{
					Treasurer:   treasurer,
					Destination: destination,
					Payer:       payer,
				})
				if err != nil {
					return s.failed(err)
				}
				result := map[string]string{"closed": key.String()}
				return s.out.Emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Closed treasury %s\n", key)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Treasurer, "treasurer", "", "treasurer account (required)")
	cmd.Flags().StringVar(&opts.Destination, "destination", "", "account receiving the balance (default: treasurer)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "account paying the close fee (default: treasurer)")
	_ = cmd.MarkFlagRequired("treasurer")

	return cmd
}

func newTreasuryRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "refresh <treasury>",
		Short:         "Re-read a treasury's balance from the ledger",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("treasury", args[0])
				if err != nil {
					return err
				}
				if err := s.host.RefreshTreasuryData(ctx, key); err != nil {
					return s.failed(err)
				}
				return s.showTreasury(ctx, key)
			})
		},
	}
}

func newTreasuryShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <treasury>",
		Short:         "Show a treasury and its streams",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				key, err := parseKey("treasury", args[0])
				if err != nil {
					return err
				}
				return s.showTreasury(ctx, key)
			})
		},
	}
}

func newTreasuryListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every treasury",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				records, err := s.store.ListTreasuries(ctx)
				if err != nil {
					return s.failed(err)
				}
				views := make([]TreasuryView, 0, len(records))
				for _, r := range records {
					views = append(views, s.treasuryView(r.Key, r.Treasury))
				}
				return s.out.Emit(views, func(w io.Writer) {
					if len(views) == 0 {
						fmt.Fprintln(w, "No treasuries.")
						return
					}
					for _, v := range views {
						fmt.Fprintf(w, "%s  %-20s  %s  streams=%d\n", v.Address, v.Name, v.Balance, v.TotalStreams)
					}
				})
			})
		},
	}
}
