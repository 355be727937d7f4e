// Package treasury models the pooled funding account that backs streams.
package treasury

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/checked"
	"github.com/roach88/paystream/internal/label"
)

// Version is the only record version the engine accepts.
const Version uint8 = 2

// Type restricts what may happen to a treasury's streams.
type Type uint8

const (
	// Open treasuries allow pausing, resuming, reallocating and closing.
	Open Type = iota
	// Locked treasuries forbid pause, resume and allocate, and only allow
	// closing streams that are not running.
	Locked
)

func (t Type) String() string {
	switch t {
	case Open:
		return "open"
	case Locked:
		return "locked"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "open", "":
		return Open, nil
	case "locked":
		return Locked, nil
	default:
		return 0, fmt.Errorf("unknown treasury type %q", s)
	}
}

// Category is an informational tag carried for indexers.
type Category uint8

const (
	Default Category = iota
	Vesting
)

func (c Category) String() string {
	switch c {
	case Default:
		return "default"
	case Vesting:
		return "vesting"
	default:
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "default", "":
		return Default, nil
	case "vesting":
		return Vesting, nil
	default:
		return 0, fmt.Errorf("unknown treasury category %q", s)
	}
}

// Treasury is the persisted funding pool.
type Treasury struct {
	Version     uint8
	Initialized bool
	Name        [label.Size]byte

	Treasurer solana.PublicKey
	// Holding is the ledger account that holds the funding unit.
	Holding solana.PublicKey
	Mint    solana.PublicKey

	LastKnownBalanceUnits     uint64
	LastKnownBalanceSlot      uint64
	LastKnownBalanceBlockTime uint64

	// AllocationAssignedUnits is the live, not yet withdrawn allocation of
	// every stream backed by this treasury.
	AllocationAssignedUnits uint64
	TotalWithdrawalsUnits   uint64
	TotalStreams            uint64

	CreatedOnUTC          uint64
	Type                  Type
	AutoClose             bool
	SolFeePayedByTreasury bool
	Category              Category
}

// DisplayName returns the decoded treasury name.
func (t *Treasury) DisplayName() string {
	return label.Decode(t.Name)
}

// Unallocated is the cached balance not committed to any stream.
func (t *Treasury) Unallocated() (uint64, error) {
	return checked.Sub(t.LastKnownBalanceUnits, t.AllocationAssignedUnits)
}

// Covers reports whether the cached balance still backs the allocation.
func (t *Treasury) Covers() bool {
	return t.LastKnownBalanceUnits >= t.AllocationAssignedUnits
}

// SetBalance records a balance observation.
func (t *Treasury) SetBalance(units, slot, blockTime uint64) {
	t.LastKnownBalanceUnits = units
	t.LastKnownBalanceSlot = slot
	t.LastKnownBalanceBlockTime = blockTime
}
