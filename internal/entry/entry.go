// Package entry stores the short public text records ("entries") that the
// API accepts. Storage is behind the Store interface with an in-memory
// implementation for development and tests and a PostgreSQL one for
// production.
package entry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("entry: not found")

// Entry is one stored record. IPAddress is kept for abuse investigations
// and is never serialized to clients.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"contenido"`
	IPAddress string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// Create stores a new entry with a fresh id.
	Create(ctx context.Context, content, ipAddress string) (*Entry, error)
	// Get returns the entry with id or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)
	// List returns all entries, newest first.
	List(ctx context.Context) ([]*Entry, error)
	// Update replaces the content of entry id or returns ErrNotFound.
	Update(ctx context.Context, id, content string) (*Entry, error)
	// Delete removes entry id or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
