// Package ratelimit provides in-memory fixed-window rate limiting keyed by
// client identifier. Each identifier owns a counter that resets when its
// window elapses; this tumbling approximation can admit up to twice the limit
// across a window boundary in exchange for O(1) memory per client.
package ratelimit

import (
	"sync"
	"time"

	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/shard"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// actions allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:write:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleWrite allows 5 write actions per 10 seconds per client.
var RuleWrite = Rule{Key: "rl:write:", Limit: 5, Window: 10 * time.Second}

type counter struct {
	start  time.Time
	window time.Duration
	count  int
}

// windowElapsed is the single expiry predicate for counters: Allow resets a
// counter and Sweep deletes it under exactly the same condition.
func windowElapsed(c *counter, now time.Time) bool {
	return now.Sub(c.start) >= c.window
}

type stripe struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// Limiter performs rate limiting checks against in-process counters.
// Safe for concurrent use; identifiers on different stripes never contend.
type Limiter struct {
	clock   clock.Clock
	stripes [shard.Count]stripe
}

// NewLimiter creates a Limiter reading time from clk.
func NewLimiter(clk clock.Clock) *Limiter {
	l := &Limiter{clock: clk}
	for i := range l.stripes {
		l.stripes[i].counters = make(map[string]*counter)
	}
	return l
}

func (l *Limiter) stripe(key string) *stripe {
	return &l.stripes[shard.Index(key)]
}

// Allow checks whether identifier is within the limit defined by rule and,
// if so, counts the action. Rejected actions are not counted, so the stored
// count never exceeds rule.Limit.
func (l *Limiter) Allow(identifier string, rule Rule) bool {
	key := rule.Key + identifier
	now := l.clock.Now()

	s := l.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || windowElapsed(c, now) {
		s.counters[key] = &counter{start: now, window: rule.Window, count: 1}
		return rule.Limit > 0
	}
	if c.count >= rule.Limit {
		return false
	}
	c.count++
	return true
}

// Remaining returns the number of actions identifier has left in the
// current window for rule. Returns the full limit if no window is open.
func (l *Limiter) Remaining(identifier string, rule Rule) int {
	key := rule.Key + identifier
	now := l.clock.Now()

	s := l.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || windowElapsed(c, now) {
		return rule.Limit
	}
	remaining := rule.Limit - c.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ResetAt returns when the current window for identifier closes, or the
// zero time if no window is open.
func (l *Limiter) ResetAt(identifier string, rule Rule) time.Time {
	key := rule.Key + identifier
	now := l.clock.Now()

	s := l.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || windowElapsed(c, now) {
		return time.Time{}
	}
	return c.start.Add(c.window)
}

// Sweep deletes every counter whose window has elapsed and returns how many
// were removed. It takes each stripe lock in turn, the same locks Allow uses.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	removed := 0
	for i := range l.stripes {
		s := &l.stripes[i]
		s.mu.Lock()
		for key, c := range s.counters {
			if windowElapsed(c, now) {
				delete(s.counters, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked counters.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.stripes {
		s := &l.stripes[i]
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}
