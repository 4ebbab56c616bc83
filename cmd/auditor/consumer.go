package main

import (
	"context"
	"log"
	"time"

	"github.com/securelog/entries-api/internal/audit"
)

const (
	repeatWindow    = 24 * time.Hour
	repeatThreshold = 3
)

type eventStore interface {
	Create(ctx context.Context, ev audit.Event) error
	CountRecent(ctx context.Context, clientID string, kind audit.Kind, window time.Duration) (int, error)
}

type blockMirror interface {
	Put(ctx context.Context, id, reason string, until time.Time) error
}

// consumer persists abuse events and mirrors new blocks. Either dependency
// may be nil when the backing service is not configured.
type consumer struct {
	store  eventStore
	mirror blockMirror
}

func (c *consumer) handle(ctx context.Context, data []byte) {
	ev, err := audit.Decode(data)
	if err != nil {
		log.Printf("[auditor] failed to decode event: %v", err)
		return
	}

	if c.store != nil {
		if err := c.store.Create(ctx, ev); err != nil {
			log.Printf("[auditor] failed to store event %s: %v", ev.ID, err)
		}
	}

	switch ev.Kind {
	case audit.KindAttackDetected, audit.KindReported:
	default:
		return
	}
	if ev.BlockedUntil == nil {
		return
	}

	log.Printf("[auditor] BLOCKED client=%s kind=%s reason=%q source=%s",
		ev.ClientID, ev.Kind, ev.Reason, ev.Source)

	if c.mirror != nil {
		if err := c.mirror.Put(ctx, ev.ClientID, ev.Reason, *ev.BlockedUntil); err != nil {
			log.Printf("[auditor] failed to mirror block for %s: %v", ev.ClientID, err)
		}
	}

	if c.store != nil && ev.Kind == audit.KindAttackDetected {
		n, err := c.store.CountRecent(ctx, ev.ClientID, audit.KindAttackDetected, repeatWindow)
		if err != nil {
			log.Printf("[auditor] count recent for %s: %v", ev.ClientID, err)
			return
		}
		if n >= repeatThreshold {
			log.Printf("[auditor] REPEAT OFFENDER client=%s attacks_24h=%d", ev.ClientID, n)
		}
	}
}
