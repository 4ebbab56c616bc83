package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists abuse events in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts ev into abuse_events. Re-delivered events with an id that
// already exists are ignored.
func (s *Store) Create(ctx context.Context, ev Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("audit: invalid kind %q", ev.Kind)
	}

	var blockedUntil sql.NullTime
	if ev.BlockedUntil != nil {
		blockedUntil = sql.NullTime{Time: *ev.BlockedUntil, Valid: true}
	}

	const query = `
		INSERT INTO abuse_events (id, kind, client_id, reason, pattern, blocked_until, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		string(ev.Kind),
		ev.ClientID,
		ev.Reason,
		ev.Pattern,
		blockedUntil,
		ev.Source,
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Deliver implements Sink so the store can sit directly behind a Dispatcher.
func (s *Store) Deliver(ctx context.Context, ev Event) error {
	return s.Create(ctx, ev)
}

// CountRecent returns how many events of the given kind were recorded for
// clientID within window. cmd/auditor uses it to flag repeat offenders.
func (s *Store) CountRecent(ctx context.Context, clientID string, kind Kind, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_events
		WHERE client_id = $1
		  AND kind = $2
		  AND occurred_at >= NOW() - make_interval(secs => $3)`

	var count int
	err := s.db.QueryRowContext(ctx, query, clientID, string(kind), window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}
