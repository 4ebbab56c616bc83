package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore keeps entries in the entries table (see internal/migrations).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// validID rejects ids that cannot be a uuid before they reach the database,
// where they would otherwise surface as a type error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *PostgresStore) Create(ctx context.Context, content, ipAddress string) (*Entry, error) {
	const query = `
		INSERT INTO entries (id, contenido, ip_address)
		VALUES ($1, $2, $3)
		RETURNING id, contenido, ip_address, created_at, updated_at`

	var ip sql.NullString
	if ipAddress != "" {
		ip = sql.NullString{String: ipAddress, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, query, uuid.New().String(), content, ip)
	e, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("entry: insert: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	const query = `
		SELECT id, contenido, ip_address, created_at, updated_at
		FROM entries
		WHERE id = $1`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entry: get: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Entry, error) {
	const query = `
		SELECT id, contenido, ip_address, created_at, updated_at
		FROM entries
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("entry: list: %w", err)
	}
	defer rows.Close()

	out := make([]*Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("entry: list scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entry: list: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id, content string) (*Entry, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	const query = `
		UPDATE entries
		SET contenido = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, contenido, ip_address, created_at, updated_at`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id, content))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entry: update: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("entry: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("entry: delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e  Entry
		ip sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Content, &ip, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.IPAddress = ip.String
	return &e, nil
}
