package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/store"
)

func loadTreasury(ctx context.Context, op string, tx *store.Tx, key solana.PublicKey) (engine.TreasuryRef, error) {
	tr, err := tx.LoadTreasury(ctx, key)
	if err != nil {
		return engine.TreasuryRef{}, storeError(op, err, engine.CodeTreasuryNotInitialized)
	}
	return engine.TreasuryRef{Key: key, Record: tr}, nil
}

// saveTreasury writes the treasury back, or deletes it once closed.
func saveTreasury(ctx context.Context, tx *store.Tx, t engine.TreasuryRef) error {
	if !t.Record.Initialized {
		return tx.DeleteTreasury(ctx, t.Key)
	}
	return tx.SaveTreasury(ctx, t.Key, t.Record)
}

// saveStream writes the stream back, or deletes it once closed.
func saveStream(ctx context.Context, tx *store.Tx, st engine.StreamRef) error {
	if !st.Record.Initialized {
		return tx.DeleteStream(ctx, st.Key)
	}
	return tx.SaveStream(ctx, st.Key, st.Record)
}

func opError(op string, code engine.Code, err error) *engine.OpError {
	return &engine.OpError{Op: op, Code: code, Err: err}
}

// storeError classifies a load failure with the code the engine would have
// returned for the same record. A missing record reads as notFound.
func storeError(op string, err error, notFound engine.Code) error {
	var code engine.Code
	switch {
	case errors.Is(err, store.ErrStreamNotInitialized):
		code = engine.CodeStreamNotInitialized
	case errors.Is(err, store.ErrInvalidStreamVersion):
		code = engine.CodeInvalidStreamVersion
	case errors.Is(err, store.ErrTreasuryNotInitialized):
		code = engine.CodeTreasuryNotInitialized
	case errors.Is(err, store.ErrInvalidTreasuryVersion):
		code = engine.CodeInvalidTreasuryVersion
	case errors.Is(err, store.ErrInvalidStreamSize),
		errors.Is(err, store.ErrInvalidTreasurySize),
		errors.Is(err, store.ErrAccountDiscriminatorMiss):
		code = engine.CodeInvalidArgument
	case errors.Is(err, store.ErrNotFound):
		code = notFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return opError(op, code, err)
}
