// Package protocol defines the JSON bodies exchanged with clients: the HTTP
// response envelopes of the entries API and the frames of the cooldown
// status stream. Stream frames carry a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is ISO-8601 in UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeFormat. The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

// ---------------------------------------------------------------------------
// HTTP envelopes
// ---------------------------------------------------------------------------

// Status types reported in CooldownStatus.Type.
const (
	StatusBlocked  = "blocked"
	StatusCooldown = "cooldown"
)

// Response is the success envelope. Count is only set for lists.
type Response struct {
	Success bool   `json:"success"`
	Count   *int   `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK wraps data in a success envelope.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// OKMessage wraps data in a success envelope with a message.
func OKMessage(message string, data any) Response {
	return Response{Success: true, Message: message, Data: data}
}

// OKList wraps a list and its length.
func OKList[T any](items []T) Response {
	n := len(items)
	if items == nil {
		items = []T{}
	}
	return Response{Success: true, Count: &n, Data: items}
}

// ErrorResponse is the failure envelope for errors without extra fields.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Failure builds an ErrorResponse.
func Failure(err, message string) ErrorResponse {
	return ErrorResponse{Error: err, Message: message}
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResponse is returned when request content fails validation.
type ValidationResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Details []FieldError `json:"details"`
}

// CooldownStatus is the status of one client: blocked, cooling down, or
// free to submit.
type CooldownStatus struct {
	Active           bool   `json:"active"`
	Type             string `json:"type,omitempty"`
	RemainingSeconds int    `json:"remainingSeconds"`
	Reason           string `json:"reason,omitempty"`
}

// Rejection is returned when the abuse gate refuses a request. Which of the
// optional fields are present depends on Code.
type Rejection struct {
	Success          bool            `json:"success"`
	Code             string          `json:"code"`
	Error            string          `json:"error"`
	Message          string          `json:"message"`
	AttackType       string          `json:"attackType,omitempty"`
	RemainingSeconds int             `json:"remainingSeconds"`
	BlockedUntil     string          `json:"blockedUntil,omitempty"`
	CooldownEndsAt   string          `json:"cooldownEndsAt,omitempty"`
	Cooldown         *CooldownStatus `json:"cooldown,omitempty"`
}

// Health is the body of the health endpoint.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Status stream frames
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypePing = "ping"
)

// Server -> Client frame types.
const (
	TypeStatus = "status"
	TypeDone   = "done"
	TypePong   = "pong"
	TypeError  = "error"
)

// Envelope holds the frame type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// StatusMsg is pushed once per second while the client is held back. Kind
// carries what CooldownStatus calls Type, since "type" is the frame
// discriminator here.
type StatusMsg struct {
	Active           bool   `json:"active"`
	Kind             string `json:"kind,omitempty"`
	RemainingSeconds int    `json:"remainingSeconds"`
	Reason           string `json:"reason,omitempty"`
	Until            string `json:"until,omitempty"`
}

// NewStatusMsg converts a status into a stream frame payload.
func NewStatusMsg(st CooldownStatus, until time.Time) StatusMsg {
	return StatusMsg{
		Active:           st.Active,
		Kind:             st.Type,
		RemainingSeconds: st.RemainingSeconds,
		Reason:           st.Reason,
		Until:            FormatTime(until),
	}
}

// DoneMsg is sent when the client is no longer blocked or cooling down.
// The server closes the stream after it.
type DoneMsg struct{}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseClientMessage parses a stream frame from the client. It returns the
// frame type, the decoded struct, and an error for unknown types.
func ParseClientMessage(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch env.Type {
	case TypePing:
		var m PingMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return env.Type, m, nil
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}
}

// NewServerMessage encodes payload as JSON with msgType injected under the
// "type" key.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]any)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
