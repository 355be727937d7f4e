package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/paystream/internal/event"
)

// AppendEvent inserts an event into the log. Uses ON CONFLICT(id) DO NOTHING
// so that re-appending an already stored event is silently ignored.
//
// Fields are stored as canonical JSON so the stored bytes hash back to the
// event ID.
func (t *Tx) AppendEvent(ctx context.Context, ev event.Event) error {
	fields, err := event.MarshalCanonical(ev.Fields)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.Kind, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO events
		(id, seq, kind, token, time, slot, treasury, stream, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		ev.Seq,
		string(ev.Kind),
		ev.Token,
		int64(ev.Time),
		int64(ev.Slot),
		ev.Treasury,
		ev.Stream,
		string(fields),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.Kind, err)
	}
	return nil
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Treasury string
	Stream   string
	Kind     event.Kind
	// Token selects the events of one correlation token.
	Token string
	// AfterSeq skips events with seq <= AfterSeq.
	AfterSeq int64
	// Limit caps the number of events returned. 0 means no limit.
	Limit int
}

// ListEvents returns the events matching filter.
// Results are ordered deterministically: ORDER BY seq ASC, id COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]event.Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Treasury != "" {
		where = append(where, "treasury = ?")
		args = append(args, filter.Treasury)
	}
	if filter.Stream != "" {
		where = append(where, "stream = ?")
		args = append(args, filter.Stream)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Token != "" {
		where = append(where, "token = ?")
		args = append(args, filter.Token)
	}
	if filter.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, filter.AfterSeq)
	}

	query := `SELECT id, seq, kind, token, time, slot, treasury, stream, fields FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC, id COLLATE BINARY ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest stored event sequence, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var (
		ev         event.Event
		kind       string
		time, slot int64
		fields     string
	)
	if err := rows.Scan(&ev.ID, &ev.Seq, &kind, &ev.Token, &time, &slot, &ev.Treasury, &ev.Stream, &fields); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Kind = event.Kind(kind)
	ev.Time = uint64(time)
	ev.Slot = uint64(slot)

	f, err := event.UnmarshalFields([]byte(fields))
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ev.Fields = f
	return ev, nil
}
