// Package ban tracks per-client abuse state in memory: temporary punitive
// blocks and the submission cooldown. State lives only as long as the
// process; the Redis Mirror in this package is a write-only copy for
// operators and is never consulted when deciding whether a client is blocked.
package ban

import (
	"sync"
	"time"

	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/shard"
)

const (
	// DefaultCooldown is the minimum gap between accepted submissions.
	DefaultCooldown = 30 * time.Second

	// DefaultCooldownIdleTTL is how long a cooldown entry is kept after the
	// last accepted submission before the sweeper reclaims it.
	DefaultCooldownIdleTTL = 5 * time.Minute

	// ReasonManual is recorded when a block is installed without a label.
	ReasonManual = "manual"
)

// Status kinds reported by Ledger.Status.
const (
	KindBlocked  = "blocked"
	KindCooldown = "cooldown"
)

// Block is an active punitive block for one client.
type Block struct {
	Reason     string
	DetectedAt time.Time
	ExpiresAt  time.Time
}

// Remaining returns the time left on the block at now, never negative.
func (b Block) Remaining(now time.Time) time.Duration {
	if d := b.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Status summarizes whether a client is currently held back and why.
// A block takes precedence over a cooldown.
type Status struct {
	Active    bool
	Kind      string // KindBlocked | KindCooldown | ""
	Remaining time.Duration
	Reason    string    // set for blocks
	Until     time.Time // block expiry or cooldown end; zero when inactive
}

// SweepStats reports how many entries one sweep reclaimed.
type SweepStats struct {
	Blocks    int
	Cooldowns int
}

// Config tunes cooldown behaviour. Zero fields take the defaults.
type Config struct {
	Cooldown        time.Duration
	CooldownIdleTTL time.Duration
}

// blockExpired and cooldownIdle are the only expiry predicates. Lazy
// eviction on read and Sweep both call them so the two paths cannot disagree.
func blockExpired(b Block, now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

func cooldownIdle(lastAccepted, now time.Time, ttl time.Duration) bool {
	return now.Sub(lastAccepted) > ttl
}

type stripe struct {
	mu        sync.Mutex
	blocks    map[string]Block
	cooldowns map[string]time.Time // identifier -> last accepted submission
}

// Ledger holds blocks and cooldowns keyed by client identifier. Every
// operation is a total function and safe for concurrent use; operations on
// the same identifier are serialized by its stripe lock.
type Ledger struct {
	clock   clock.Clock
	cfg     Config
	stripes [shard.Count]stripe
}

// NewLedger creates an empty Ledger.
func NewLedger(clk clock.Clock, cfg Config) *Ledger {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CooldownIdleTTL <= 0 {
		cfg.CooldownIdleTTL = DefaultCooldownIdleTTL
	}
	l := &Ledger{clock: clk, cfg: cfg}
	for i := range l.stripes {
		l.stripes[i].blocks = make(map[string]Block)
		l.stripes[i].cooldowns = make(map[string]time.Time)
	}
	return l
}

func (l *Ledger) stripe(id string) *stripe {
	return &l.stripes[shard.Index(id)]
}

// Cooldown returns the configured cooldown window.
func (l *Ledger) Cooldown() time.Duration {
	return l.cfg.Cooldown
}

// IsBlocked returns the active block for id. An expired block is treated as
// absent and removed.
func (l *Ledger) IsBlocked(id string) (Block, bool) {
	now := l.clock.Now()
	s := l.stripe(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeBlock(id, now)
}

func (s *stripe) activeBlock(id string, now time.Time) (Block, bool) {
	b, ok := s.blocks[id]
	if !ok {
		return Block{}, false
	}
	if blockExpired(b, now) {
		delete(s.blocks, id)
		return Block{}, false
	}
	return b, true
}

// Block installs a block on id for d, replacing any existing block, and
// returns the expiry. An empty reason is recorded as ReasonManual. A
// non-positive d is raised to one second so the block is always in the future.
func (l *Ledger) Block(id, reason string, d time.Duration) time.Time {
	if reason == "" {
		reason = ReasonManual
	}
	if d <= 0 {
		d = time.Second
	}
	now := l.clock.Now()
	b := Block{Reason: reason, DetectedAt: now, ExpiresAt: now.Add(d)}

	s := l.stripe(id)
	s.mu.Lock()
	s.blocks[id] = b
	s.mu.Unlock()
	return b.ExpiresAt
}

// Unblock removes any block on id immediately.
func (l *Ledger) Unblock(id string) {
	s := l.stripe(id)
	s.mu.Lock()
	delete(s.blocks, id)
	s.mu.Unlock()
}

// RecordAcceptedSubmission starts a new cooldown for id at the current time.
func (l *Ledger) RecordAcceptedSubmission(id string) {
	now := l.clock.Now()
	s := l.stripe(id)
	s.mu.Lock()
	s.cooldowns[id] = now
	s.mu.Unlock()
}

// CooldownRemaining returns how long id must wait before its next
// submission is accepted; zero when no cooldown applies.
func (l *Ledger) CooldownRemaining(id string) time.Duration {
	now := l.clock.Now()
	s := l.stripe(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownRemaining(id, now, l.cfg)
}

func (s *stripe) cooldownRemaining(id string, now time.Time, cfg Config) time.Duration {
	last, ok := s.cooldowns[id]
	if !ok {
		return 0
	}
	if cooldownIdle(last, now, cfg.CooldownIdleTTL) {
		delete(s.cooldowns, id)
		return 0
	}
	if d := cfg.Cooldown - now.Sub(last); d > 0 {
		return d
	}
	return 0
}

// Status reports the block or cooldown currently applying to id. Both are
// read under one lock acquisition so the result is a consistent snapshot.
func (l *Ledger) Status(id string) Status {
	now := l.clock.Now()
	s := l.stripe(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.activeBlock(id, now); ok {
		return Status{
			Active:    true,
			Kind:      KindBlocked,
			Remaining: b.Remaining(now),
			Reason:    b.Reason,
			Until:     b.ExpiresAt,
		}
	}
	if d := s.cooldownRemaining(id, now, l.cfg); d > 0 {
		return Status{
			Active:    true,
			Kind:      KindCooldown,
			Remaining: d,
			Until:     now.Add(d),
		}
	}
	return Status{}
}

// Sweep removes expired blocks and idle cooldowns. It visits one stripe at
// a time under the same lock the request path takes.
func (l *Ledger) Sweep() SweepStats {
	now := l.clock.Now()
	var stats SweepStats
	for i := range l.stripes {
		s := &l.stripes[i]
		s.mu.Lock()
		for id, b := range s.blocks {
			if blockExpired(b, now) {
				delete(s.blocks, id)
				stats.Blocks++
			}
		}
		for id, last := range s.cooldowns {
			if cooldownIdle(last, now, l.cfg.CooldownIdleTTL) {
				delete(s.cooldowns, id)
				stats.Cooldowns++
			}
		}
		s.mu.Unlock()
	}
	return stats
}

// Len returns the number of tracked blocks and cooldowns, including entries
// that have expired but not yet been reclaimed.
func (l *Ledger) Len() (blocks, cooldowns int) {
	for i := range l.stripes {
		s := &l.stripes[i]
		s.mu.Lock()
		blocks += len(s.blocks)
		cooldowns += len(s.cooldowns)
		s.mu.Unlock()
	}
	return blocks, cooldowns
}
