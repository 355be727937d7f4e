package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/stream"
	"github.com/roach88/paystream/internal/treasury"
)

// querier is the read surface shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TreasuryRecord is a decoded treasury with its address.
type TreasuryRecord struct {
	Key      solana.PublicKey
	Treasury *treasury.Treasury
}

// StreamRecord is a decoded stream with its address.
type StreamRecord struct {
	Key    solana.PublicKey
	Stream *stream.Stream
}

// LoadTreasury reads and decodes a treasury. Returns ErrNotFound if no record
// exists at key.
func (t *Tx) LoadTreasury(ctx context.Context, key solana.PublicKey) (*treasury.Treasury, error) {
	return loadTreasury(ctx, t.tx, key)
}

// SaveTreasury inserts or replaces a treasury record.
func (t *Tx) SaveTreasury(ctx context.Context, key solana.PublicKey, tr *treasury.Treasury) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO treasuries (key, data) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data
	`, key.String(), EncodeTreasury(tr))
	if err != nil {
		return fmt.Errorf("save treasury %s: %w", key, err)
	}
	return nil
}

// DeleteTreasury removes a treasury record. The treasury must have no stream
// records left.
func (t *Tx) DeleteTreasury(ctx context.Context, key solana.PublicKey) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM treasuries WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("delete treasury %s: %w", key, err)
	}
	return nil
}

// LoadStream reads and decodes a stream. Returns ErrNotFound if no record
// exists at key.
func (t *Tx) LoadStream(ctx context.Context, key solana.PublicKey) (*stream.Stream, error) {
	return loadStream(ctx, t.tx, key)
}

// SaveStream inserts or replaces a stream record, indexed under the treasury
// the stream points at.
func (t *Tx) SaveStream(ctx context.Context, key solana.PublicKey, s *stream.Stream) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO streams (key, treasury, data) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET treasury = excluded.treasury, data = excluded.data
	`, key.String(), s.Treasury.String(), EncodeStream(s))
	if err != nil {
		return fmt.Errorf("save stream %s: %w", key, err)
	}
	return nil
}

// DeleteStream removes a stream record.
func (t *Tx) DeleteStream(ctx context.Context, key solana.PublicKey) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM streams WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("delete stream %s: %w", key, err)
	}
	return nil
}

// ListStreams returns the streams of a treasury inside the transaction.
func (t *Tx) ListStreams(ctx context.Context, treasuryKey solana.PublicKey) ([]StreamRecord, error) {
	return listStreams(ctx, t.tx, treasuryKey)
}

// Treasury reads one treasury outside any transaction.
func (s *Store) Treasury(ctx context.Context, key solana.PublicKey) (*treasury.Treasury, error) {
	return loadTreasury(ctx, s.db, key)
}

// Stream reads one stream outside any transaction.
func (s *Store) Stream(ctx context.Context, key solana.PublicKey) (*stream.Stream, error) {
	return loadStream(ctx, s.db, key)
}

// ListStreams returns the streams of a treasury ordered by key.
func (s *Store) ListStreams(ctx context.Context, treasuryKey solana.PublicKey) ([]StreamRecord, error) {
	return listStreams(ctx, s.db, treasuryKey)
}

// ListTreasuries returns every treasury ordered by key.
func (s *Store) ListTreasuries(ctx context.Context) ([]TreasuryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, data FROM treasuries ORDER BY key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list treasuries: %w", err)
	}
	defer rows.Close()

	var out []TreasuryRecord
	for rows.Next() {
		var (
			text string
			data []byte
		)
		if err := rows.Scan(&text, &data); err != nil {
			return nil, fmt.Errorf("scan treasury: %w", err)
		}
		key, err := parseKey(text)
		if err != nil {
			return nil, err
		}
		tr, err := DecodeTreasury(data)
		if err != nil {
			return nil, fmt.Errorf("treasury %s: %w", key, err)
		}
		out = append(out, TreasuryRecord{Key: key, Treasury: tr})
	}
	return out, rows.Err()
}

func loadTreasury(ctx context.Context, q querier, key solana.PublicKey) (*treasury.Treasury, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM treasuries WHERE key = ?`, key.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("treasury %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load treasury %s: %w", key, err)
	}
	tr, err := DecodeTreasury(data)
	if err != nil {
		return nil, fmt.Errorf("treasury %s: %w", key, err)
	}
	return tr, nil
}

func loadStream(ctx context.Context, q querier, key solana.PublicKey) (*stream.Stream, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM streams WHERE key = ?`, key.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stream %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", key, err)
	}
	s, err := DecodeStream(data)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", key, err)
	}
	return s, nil
}

func listStreams(ctx context.Context, q querier, treasuryKey solana.PublicKey) ([]StreamRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, data FROM streams
		WHERE treasury = ?
		ORDER BY key COLLATE BINARY ASC
	`, treasuryKey.String())
	if err != nil {
		return nil, fmt.Errorf("list streams of %s: %w", treasuryKey, err)
	}
	defer rows.Close()

	var out []StreamRecord
	for rows.Next() {
		var (
			text string
			data []byte
		)
		if err := rows.Scan(&text, &data); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		key, err := parseKey(text)
		if err != nil {
			return nil, err
		}
		s, err := DecodeStream(data)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", key, err)
		}
		out = append(out, StreamRecord{Key: key, Stream: s})
	}
	return out, rows.Err()
}

func parseKey(text string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(text)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("stored key %q: %w", text, err)
	}
	return key, nil
}
