package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// FundResult reports a credited account.
type FundResult struct {
	Account string `json:"account"`
	Holding string `json:"holding,omitempty"`
	Fee     bool   `json:"fee_currency"`
	Credit  Amount `json:"credit"`
	Balance Amount `json:"balance"`
}

type fundOptions struct {
	Mint   string
	Amount string
	Fee    bool
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &fundOptions{}

	cmd := &cobra.Command{
		Use:   "fund <account>",
		Short: "Credit an account in the local ledger",
		Long: `Credit funding units to an account's holding for a mint, or with --fee
credit the account's fee currency.

This is the only way value enters the ledger. Fee currency amounts use 9
decimals; funding units use the configured mint decimals.

Examples:
  paystream fund <account> --mint <mint> --amount 1000
  paystream fund <account> --fee --amount 0.5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				return runFund(ctx, s, args[0], opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Mint, "mint", "", "mint of the funding unit (required unless --fee)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount to credit (required)")
	cmd.Flags().BoolVar(&opts.Fee, "fee", false, "credit fee currency instead of funding units")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runFund(ctx context.Context, s *session, accountArg string, opts *fundOptions) error {
	account, err := parseKey("account", accountArg)
	if err != nil {
		return err
	}

	result := FundResult{Account: account.String(), Fee: opts.Fee}
	if opts.Fee {
		amount, err := ParseAmount(opts.Amount, FeeCurrencyDecimals)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --amount", err)
		}
		if err := s.host.FundFeeCurrency(ctx, account, amount); err != nil {
			return s.failed(err)
		}
		balance, err := s.store.FeeCurrencyBalance(ctx, account)
		if err != nil {
			return s.failed(err)
		}
		result.Credit = NewAmount(amount, FeeCurrencyDecimals)
		result.Balance = NewAmount(balance, FeeCurrencyDecimals)
	} else {
		mint, err := parseKey("mint", opts.Mint)
		if err != nil {
			return err
		}
		amount, err := s.parseAmount(opts.Amount)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --amount", err)
		}
		holding, err := s.host.Fund(ctx, account, mint, amount)
		if err != nil {
			return s.failed(err)
		}
		balance, err := s.store.Balance(ctx, holding)
		if err != nil {
			return s.failed(err)
		}
		result.Holding = holding.String()
		result.Credit = s.amount(amount)
		result.Balance = s.amount(balance)
	}

	return s.out.Emit(result, func(w io.Writer) {
		target := result.Account + " (fee currency)"
		if result.Holding != "" {
			target = result.Holding
		}
		fmt.Fprintf(w, "✓ Credited %s to %s\n", result.Credit, target)
		fmt.Fprintf(w, "  Balance: %s\n", result.Balance)
	})
}

// BalanceLine is one non-zero ledger entry.
type BalanceLine struct {
	Account string `json:"account"`
	Book    string `json:"book"`
	Amount  Amount `json:"amount"`
}

// NewBalancesCommand creates the balances command.
func NewBalancesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "List every non-zero ledger balance",
		Long: `List every non-zero balance in the ledger.

Funding units live in holding accounts, one per owner and mint; fee
currency lives on the owner account itself.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				balances, err := s.store.ListBalances(ctx)
				if err != nil {
					return s.failed(err)
				}
				lines := make([]BalanceLine, 0, len(balances))
				for _, b := range balances {
					line := BalanceLine{Account: b.Account.String(), Book: "units", Amount: s.amount(b.Amount)}
					if b.Fee {
						line.Book = "fee"
						line.Amount = NewAmount(b.Amount, FeeCurrencyDecimals)
					}
					lines = append(lines, line)
				}
				return s.out.Emit(lines, func(w io.Writer) {
					if len(lines) == 0 {
						fmt.Fprintln(w, "No balances.")
						return
					}
					for _, l := range lines {
						fmt.Fprintf(w, "%-44s  %-5s  %s\n", l.Account, l.Book, l.Amount)
					}
				})
			})
		},
	}
}
