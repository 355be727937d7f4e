package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/checked"
	"github.com/roach88/paystream/internal/ledger"
)

type book string

const (
	bookUnits book = "units"
	bookFee   book = "fee"
)

var _ ledger.Ledger = (*Tx)(nil)

// Transfer moves funding units between holding accounts.
func (t *Tx) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	return t.move(ctx, bookUnits, from, to, amount)
}

// TransferFeeCurrency moves fee currency between accounts.
func (t *Tx) TransferFeeCurrency(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	return t.move(ctx, bookFee, from, to, amount)
}

// Balance returns the funding units held by a holding account.
func (t *Tx) Balance(ctx context.Context, holding solana.PublicKey) (uint64, error) {
	return t.amount(ctx, bookUnits, holding)
}

// FeeCurrencyBalance returns the fee currency held by an account.
func (t *Tx) FeeCurrencyBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return t.amount(ctx, bookFee, account)
}

// Credit mints funding units into a holding account.
func (t *Tx) Credit(ctx context.Context, holding solana.PublicKey, amount uint64) error {
	return t.credit(ctx, bookUnits, holding, amount)
}

// CreditFeeCurrency mints fee currency into an account.
func (t *Tx) CreditFeeCurrency(ctx context.Context, account solana.PublicKey, amount uint64) error {
	return t.credit(ctx, bookFee, account, amount)
}

func (t *Tx) move(ctx context.Context, b book, from, to solana.PublicKey, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	have, err := t.amount(ctx, b, from)
	if err != nil {
		return err
	}
	if have < amount {
		return fmt.Errorf("transfer %d from %s (balance %d): %w", amount, from, have, ledger.ErrInsufficientFunds)
	}
	if err := t.credit(ctx, b, to, amount); err != nil {
		return err
	}
	return t.set(ctx, b, from, have-amount)
}

func (t *Tx) credit(ctx context.Context, b book, account solana.PublicKey, amount uint64) error {
	have, err := t.amount(ctx, b, account)
	if err != nil {
		return err
	}
	next, err := checked.Add(have, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return t.set(ctx, b, account, next)
}

func (t *Tx) amount(ctx context.Context, b book, account solana.PublicKey) (uint64, error) {
	return readAmount(ctx, t.tx, b, account)
}

func readAmount(ctx context.Context, q querier, b book, account solana.PublicKey) (uint64, error) {
	var text string
	err := q.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account = ? AND book = ?`,
		account.String(), string(b),
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s balance of %s: %w", b, account, err)
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s balance of %s: %w", b, account, err)
	}
	return n, nil
}

func (t *Tx) set(ctx context.Context, b book, account solana.PublicKey, amount uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account, book, amount) VALUES (?, ?, ?)
		ON CONFLICT (account, book) DO UPDATE SET amount = excluded.amount
	`, account.String(), string(b), strconv.FormatUint(amount, 10))
	if err != nil {
		return fmt.Errorf("write %s balance of %s: %w", b, account, err)
	}
	return nil
}

// Balance returns the committed funding units of a holding account.
func (s *Store) Balance(ctx context.Context, holding solana.PublicKey) (uint64, error) {
	return readAmount(ctx, s.db, bookUnits, holding)
}

// FeeCurrencyBalance returns the committed fee currency of an account.
func (s *Store) FeeCurrencyBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return readAmount(ctx, s.db, bookFee, account)
}

// Balance is one non-zero ledger entry.
type Balance struct {
	Account solana.PublicKey
	Fee     bool
	Amount  uint64
}

// ListBalances returns every non-zero balance ordered by account, funding
// units before fee currency.
func (s *Store) ListBalances(ctx context.Context) ([]Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, book, amount FROM balances
		WHERE amount != '0'
		ORDER BY account COLLATE BINARY ASC, book DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var account, b, text string
		if err := rows.Scan(&account, &b, &text); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(account)
		if err != nil {
			return nil, fmt.Errorf("balance account %q: %w", account, err)
		}
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", account, err)
		}
		out = append(out, Balance{Account: key, Fee: book(b) == bookFee, Amount: n})
	}
	return out, rows.Err()
}
