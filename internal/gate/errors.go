package gate

import (
	"fmt"
	"time"

	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/moderation"
)

// Code identifies why the gate rejected a request.
type Code string

const (
	RateLimited    Code = "RateLimited"
	Blocked        Code = "Blocked"
	AttackDetected Code = "AttackDetected"
	CooldownActive Code = "CooldownActive"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrRateLimited    = &Error{Code: RateLimited}
	ErrBlocked        = &Error{Code: Blocked}
	ErrAttackDetected = &Error{Code: AttackDetected}
	ErrCooldownActive = &Error{Code: CooldownActive}
)

// Error is a rejection from the gate. All rejections are expected and clear
// up by waiting until Until.
type Error struct {
	Code      Code
	Reason    string                // block reason or attack kind
	Kind      moderation.AttackKind // set for AttackDetected
	Until     time.Time             // when the caller may retry
	Remaining time.Duration
}

func (e *Error) Error() string {
	switch e.Code {
	case Blocked:
		return fmt.Sprintf("gate: blocked (%s) for %ds", e.Reason, e.RemainingSeconds())
	case AttackDetected:
		return fmt.Sprintf("gate: %s attack detected", e.Kind)
	default:
		return fmt.Sprintf("gate: %s, retry in %ds", e.Code, e.RemainingSeconds())
	}
}

// Is matches another *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// RemainingSeconds is Remaining rounded up to whole seconds.
func (e *Error) RemainingSeconds() int {
	return clock.CeilSeconds(e.Remaining)
}
