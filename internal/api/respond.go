package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/securelog/entries-api/internal/ban"
	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/entry"
	"github.com/securelog/entries-api/internal/gate"
	"github.com/securelog/entries-api/internal/protocol"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func failureBody(err, message string) protocol.ErrorResponse {
	return protocol.Failure(err, message)
}

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("malformed request body")

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// writeError maps err to a response. Gate rejections, validation failures and
// missing entries are expected; anything else is logged and answered with a
// body that carries no detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		gerr     *gate.Error
		verr     *entry.ValidationError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &gerr):
		s.writeRejection(w, gerr)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, protocol.ValidationResponse{
			Error:   "Validation failed",
			Details: []protocol.FieldError{{Field: verr.Field, Message: verr.Constraint}},
		})
	case errors.Is(err, entry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, failureBody("Entry not found", ""))
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge,
			failureBody("Request body too large", fmt.Sprintf("Bodies are limited to %d bytes.", tooLarge.Limit)))
	case errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, failureBody("Invalid JSON body", ""))
	default:
		log.Printf("[api] request_id=%s %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, failureBody("Internal server error", ""))
	}
}

func (s *Server) writeRejection(w http.ResponseWriter, e *gate.Error) {
	secs := e.RemainingSeconds()
	body := protocol.Rejection{
		Code:             string(e.Code),
		RemainingSeconds: secs,
	}
	status := http.StatusForbidden

	switch e.Code {
	case gate.RateLimited:
		status = http.StatusTooManyRequests
		rule := s.gate.Config().Rate
		body.Error = "Too many requests"
		body.Message = fmt.Sprintf("You have exceeded the limit of %d actions every %s. Please wait a moment.",
			rule.Limit, humanDuration(rule.Window))
	case gate.Blocked:
		body.Error = "IP temporarily blocked"
		body.Message = fmt.Sprintf("Your IP has been blocked after an attack attempt (%s). Try again in %d seconds.",
			e.Reason, secs)
		body.BlockedUntil = protocol.FormatTime(e.Until)
		body.Cooldown = blockedStatus(e.Reason, secs)
	case gate.AttackDetected:
		body.Error = "Attack attempt detected"
		body.Message = fmt.Sprintf("A %s attempt was detected. Your IP has been blocked for %s.",
			e.Kind, humanDuration(s.gate.Config().AttackBlock))
		body.AttackType = string(e.Kind)
		body.BlockedUntil = protocol.FormatTime(e.Until)
		body.Cooldown = blockedStatus(e.Reason, secs)
	case gate.CooldownActive:
		status = http.StatusTooManyRequests
		body.Error = "Cooldown active"
		body.Message = fmt.Sprintf("You must wait %d seconds before submitting again.", secs)
		body.CooldownEndsAt = protocol.FormatTime(e.Until)
	}

	if secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, status, body)
}

func blockedStatus(reason string, secs int) *protocol.CooldownStatus {
	return &protocol.CooldownStatus{
		Active:           true,
		Type:             protocol.StatusBlocked,
		RemainingSeconds: secs,
		Reason:           reason,
	}
}

func statusBody(st ban.Status) protocol.CooldownStatus {
	if !st.Active {
		return protocol.CooldownStatus{}
	}
	out := protocol.CooldownStatus{
		Active:           true,
		RemainingSeconds: clock.CeilSeconds(st.Remaining),
		Reason:           st.Reason,
	}
	switch st.Kind {
	case ban.KindBlocked:
		out.Type = protocol.StatusBlocked
	case ban.KindCooldown:
		out.Type = protocol.StatusCooldown
	}
	return out
}

// humanDuration renders whole minutes as "15 minutes" and anything else in
// seconds.
func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
	return fmt.Sprintf("%d seconds", clock.CeilSeconds(d))
}
