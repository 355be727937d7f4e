// Package ledger is the value-transfer boundary of the engine.
//
// Two currencies move through a ledger: the funding unit held in holding
// accounts (one per owner and mint) and the fee currency used for flat
// protocol fees. The engine never touches balances directly.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/checked"
)

// ErrInsufficientFunds is returned when the source of a transfer holds less
// than the requested amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger moves value between accounts.
type Ledger interface {
	// Transfer moves funding units between holding accounts.
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error
	// TransferFeeCurrency moves fee currency between accounts.
	TransferFeeCurrency(ctx context.Context, from, to solana.PublicKey, amount uint64) error
	// Balance returns the funding units held by a holding account.
	Balance(ctx context.Context, holding solana.PublicKey) (uint64, error)
	// FeeCurrencyBalance returns the fee currency held by an account.
	FeeCurrencyBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// HoldingAddress derives the holding account of owner for mint. It is the
// associated token address, so every ledger agrees on it.
func HoldingAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive holding for %s: %w", owner, err)
	}
	return addr, nil
}

// Memory is an in-process Ledger. Safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	units map[solana.PublicKey]uint64
	fees  map[solana.PublicKey]uint64
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		units: make(map[solana.PublicKey]uint64),
		fees:  make(map[solana.PublicKey]uint64),
	}
}

// Credit mints funding units into a holding account.
func (m *Memory) Credit(holding solana.PublicKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return credit(m.units, holding, amount)
}

// CreditFeeCurrency mints fee currency into an account.
func (m *Memory) CreditFeeCurrency(account solana.PublicKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return credit(m.fees, account, amount)
}

func (m *Memory) Transfer(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return move(m.units, from, to, amount)
}

func (m *Memory) TransferFeeCurrency(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return move(m.fees, from, to, amount)
}

func (m *Memory) Balance(_ context.Context, holding solana.PublicKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units[holding], nil
}

func (m *Memory) FeeCurrencyBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees[account], nil
}

func credit(book map[solana.PublicKey]uint64, account solana.PublicKey, amount uint64) error {
	next, err := checked.Add(book[account], amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	book[account] = next
	return nil
}

func move(book map[solana.PublicKey]uint64, from, to solana.PublicKey, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	have := book[from]
	if have < amount {
		return fmt.Errorf("transfer %d from %s (balance %d): %w", amount, from, have, ErrInsufficientFunds)
	}
	next, err := checked.Add(book[to], amount)
	if err != nil {
		return fmt.Errorf("transfer %d to %s: %w", amount, to, err)
	}
	book[from] = have - amount
	book[to] = next
	return nil
}
