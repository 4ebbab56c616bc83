// Package gate decides whether a write request from a client may proceed.
// Every check runs in a fixed order (rate, block, attack, cooldown) and the
// first failing check ends the evaluation. The gate performs no I/O: it
// reads and updates the in-memory ledger and limiter, updates metrics, and
// hands audit events to a non-blocking Emitter.
package gate

import (
	"errors"
	"log"
	"time"

	"github.com/securelog/entries-api/internal/audit"
	"github.com/securelog/entries-api/internal/ban"
	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/metrics"
	"github.com/securelog/entries-api/internal/moderation"
	"github.com/securelog/entries-api/internal/ratelimit"
)

const (
	// DefaultAttackBlock is how long a client is blocked after submitting
	// content classified as an attack.
	DefaultAttackBlock = 15 * time.Minute

	// DefaultReportBlock is how long a client is blocked after an attack
	// is reported on its behalf.
	DefaultReportBlock = 5 * time.Minute

	// DefaultReportReason labels a report that names no attack type.
	DefaultReportReason = "XSS reported by client"
)

// Action is the kind of write a request performs.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
	ActionReport
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionReport:
		return "report"
	default:
		return "unknown"
	}
}

// carriesContent reports whether the action submits content, which enables
// the attack and cooldown checks.
func (a Action) carriesContent() bool {
	return a == ActionCreate || a == ActionUpdate
}

// Emitter accepts audit events. Implementations must not block.
type Emitter interface {
	Emit(ev audit.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(audit.Event) {}

// Config holds gate policy. Zero fields take the defaults.
type Config struct {
	Rate        ratelimit.Rule
	AttackBlock time.Duration
	ReportBlock time.Duration
}

// SweepStats reports what one Sweep reclaimed.
type SweepStats struct {
	Blocks    int
	Cooldowns int
	Windows   int
}

// Total returns the number of entries reclaimed.
func (s SweepStats) Total() int {
	return s.Blocks + s.Cooldowns + s.Windows
}

// Gate owns the abuse ledger and rate limiter for one process.
type Gate struct {
	clock   clock.Clock
	ledger  *ban.Ledger
	limiter *ratelimit.Limiter
	cfg     Config
	events  Emitter
}

// New creates a Gate. A nil Emitter discards events.
func New(clk clock.Clock, ledger *ban.Ledger, limiter *ratelimit.Limiter, cfg Config, events Emitter) *Gate {
	if cfg.Rate.Limit == 0 && cfg.Rate.Window == 0 {
		cfg.Rate = ratelimit.RuleWrite
	}
	if cfg.Rate.Key == "" {
		cfg.Rate.Key = ratelimit.RuleWrite.Key
	}
	if cfg.AttackBlock <= 0 {
		cfg.AttackBlock = DefaultAttackBlock
	}
	if cfg.ReportBlock <= 0 {
		cfg.ReportBlock = DefaultReportBlock
	}
	if events == nil {
		events = nopEmitter{}
	}
	return &Gate{
		clock:   clk,
		ledger:  ledger,
		limiter: limiter,
		cfg:     cfg,
		events:  events,
	}
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Check runs the gate for a write by id. It returns nil when the request may
// proceed or a *Error describing the first failed check. content is only
// inspected for create and update.
func (g *Gate) Check(id string, action Action, content string) error {
	if err := g.rateCheck(id); err != nil {
		return err
	}
	if err := g.blockCheck(id); err != nil {
		return err
	}
	if !action.carriesContent() {
		metrics.GateDecisions.WithLabelValues("allowed").Inc()
		return nil
	}
	if err := g.attackCheck(id, content); err != nil {
		return err
	}
	if err := g.cooldownCheck(id); err != nil {
		return err
	}
	metrics.GateDecisions.WithLabelValues("allowed").Inc()
	return nil
}

func (g *Gate) rateCheck(id string) error {
	if g.limiter.Allow(id, g.cfg.Rate) {
		return nil
	}
	now := g.clock.Now()
	until := g.limiter.ResetAt(id, g.cfg.Rate)
	if until.IsZero() {
		// The window closed between the two calls; retry is allowed now.
		until = now
	}
	metrics.GateDecisions.WithLabelValues("rate_limited").Inc()
	g.events.Emit(audit.NewEvent(audit.KindRateLimited, id, now))
	return &Error{Code: RateLimited, Until: until, Remaining: until.Sub(now)}
}

func (g *Gate) blockCheck(id string) error {
	b, ok := g.ledger.IsBlocked(id)
	if !ok {
		return nil
	}
	now := g.clock.Now()
	metrics.GateDecisions.WithLabelValues("blocked").Inc()
	g.events.Emit(audit.NewEvent(audit.KindBlockedRequest, id, now).WithBlock(b.Reason, b.ExpiresAt))
	return &Error{
		Code:      Blocked,
		Reason:    b.Reason,
		Until:     b.ExpiresAt,
		Remaining: b.Remaining(now),
	}
}

func (g *Gate) attackCheck(id, content string) error {
	res := moderation.ClassifyDetail(content)
	if !res.Detected() {
		return nil
	}
	now := g.clock.Now()
	until := g.ledger.Block(id, string(res.Kind), g.cfg.AttackBlock)

	log.Printf("[gate] attack detected client=%s kind=%s check=%s", id, res.Kind, res.Pattern)
	metrics.GateDecisions.WithLabelValues("attack_detected").Inc()
	metrics.AttacksDetected.WithLabelValues(string(res.Kind)).Inc()

	ev := audit.NewEvent(audit.KindAttackDetected, id, now).WithBlock(string(res.Kind), until)
	ev.Pattern = res.Pattern
	g.events.Emit(ev)

	return &Error{
		Code:      AttackDetected,
		Reason:    string(res.Kind),
		Kind:      res.Kind,
		Until:     until,
		Remaining: until.Sub(now),
	}
}

func (g *Gate) cooldownCheck(id string) error {
	d := g.ledger.CooldownRemaining(id)
	if d <= 0 {
		return nil
	}
	now := g.clock.Now()
	metrics.GateDecisions.WithLabelValues("cooldown").Inc()
	g.events.Emit(audit.NewEvent(audit.KindCooldown, id, now))
	return &Error{Code: CooldownActive, Until: now.Add(d), Remaining: d}
}

// Accept starts the submission cooldown for id. Call it only after the
// content has been persisted.
func (g *Gate) Accept(id string) {
	g.ledger.RecordAcceptedSubmission(id)
}

// Report handles an attack reported by the client itself and blocks id for
// the report duration. The request is rate limited like any other write. If
// id is already blocked the existing block is kept, so a report never
// shortens a longer block; the returned error is then ErrBlocked and the
// returned time is the existing expiry.
func (g *Gate) Report(id, label string) (time.Time, error) {
	if err := g.Check(id, ActionReport, ""); err != nil {
		var gerr *Error
		if errors.As(err, &gerr) && gerr.Code == Blocked {
			return gerr.Until, err
		}
		return time.Time{}, err
	}
	if label == "" {
		label = DefaultReportReason
	}
	now := g.clock.Now()
	until := g.ledger.Block(id, label, g.cfg.ReportBlock)

	log.Printf("[gate] attack reported client=%s label=%q", id, label)
	metrics.GateDecisions.WithLabelValues("reported").Inc()
	g.events.Emit(audit.NewEvent(audit.KindReported, id, now).WithBlock(label, until))
	return until, nil
}

// Status returns the block or cooldown currently applying to id.
func (g *Gate) Status(id string) ban.Status {
	return g.ledger.Status(id)
}

// Sweep removes expired blocks, idle cooldowns and elapsed rate windows,
// then refreshes the size gauges.
func (g *Gate) Sweep() SweepStats {
	ls := g.ledger.Sweep()
	stats := SweepStats{
		Blocks:    ls.Blocks,
		Cooldowns: ls.Cooldowns,
		Windows:   g.limiter.Sweep(),
	}

	metrics.SweepEvictions.WithLabelValues("block").Add(float64(stats.Blocks))
	metrics.SweepEvictions.WithLabelValues("cooldown").Add(float64(stats.Cooldowns))
	metrics.SweepEvictions.WithLabelValues("window").Add(float64(stats.Windows))

	blocks, cooldowns := g.ledger.Len()
	metrics.ActiveBlocks.Set(float64(blocks))
	metrics.TrackedCooldowns.Set(float64(cooldowns))
	metrics.RateWindows.Set(float64(g.limiter.Len()))
	return stats
}
