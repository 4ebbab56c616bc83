// Package audit records abuse decisions made by the gate. Events are handed
// to a Dispatcher that never blocks the request path; a background loop
// delivers them to sinks such as NATS, and cmd/auditor persists them to
// PostgreSQL.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an abuse event.
type Kind string

const (
	KindAttackDetected Kind = "attack_detected"
	KindReported       Kind = "reported"
	KindBlockedRequest Kind = "blocked_request"
	KindRateLimited    Kind = "rate_limited"
	KindCooldown       Kind = "cooldown"
)

// validKinds matches the CHECK constraint on the abuse_events table.
var validKinds = map[Kind]bool{
	KindAttackDetected: true,
	KindReported:       true,
	KindBlockedRequest: true,
	KindRateLimited:    true,
	KindCooldown:       true,
}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	return validKinds[k]
}

// Event is one abuse decision.
type Event struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	ClientID     string     `json:"clientId"`
	Reason       string     `json:"reason,omitempty"`
	Pattern      string     `json:"pattern,omitempty"` // attack check that matched
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
	Source       string     `json:"source,omitempty"` // server name
	At           time.Time  `json:"at"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(kind Kind, clientID string, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		ClientID: clientID,
		At:       at.UTC(),
	}
}

// WithBlock returns a copy of e carrying the block expiry and reason.
func (e Event) WithBlock(reason string, until time.Time) Event {
	u := until.UTC()
	e.Reason = reason
	e.BlockedUntil = &u
	return e
}
