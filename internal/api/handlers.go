package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/entry"
	"github.com/securelog/entries-api/internal/gate"
	"github.com/securelog/entries-api/internal/moderation"
	"github.com/securelog/entries-api/internal/protocol"
)

// maxReportLabel caps the attack label accepted from report bodies.
const maxReportLabel = 64

// entryRequest accepts the content under "contenido" or "content".
type entryRequest struct {
	Contenido *string `json:"contenido"`
	Content   *string `json:"content"`
}

func (e entryRequest) text() string {
	switch {
	case e.Contenido != nil:
		return *e.Contenido
	case e.Content != nil:
		return *e.Content
	default:
		return ""
	}
}

type reportRequest struct {
	AttackType string `json:"attackType"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.Health{
		Status:    "ok",
		Timestamp: protocol.FormatTime(s.clock.Now()),
	})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKList(entries))
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OK(e))
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id := ClientIP(r)
	raw := req.text()
	if err := s.gate.Check(id, gate.ActionCreate, raw); err != nil {
		s.writeError(w, r, err)
		return
	}

	content, err := entry.PrepareContent(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	e, err := s.store.Create(r.Context(), content, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.gate.Accept(id)

	writeJSON(w, http.StatusCreated, protocol.OKMessage("Entry created successfully", e))
}

func (s *Server) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id := ClientIP(r)
	raw := req.text()
	if err := s.gate.Check(id, gate.ActionUpdate, raw); err != nil {
		s.writeError(w, r, err)
		return
	}

	content, err := entry.PrepareContent(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	e, err := s.store.Update(r.Context(), chi.URLParam(r, "id"), content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.gate.Accept(id)

	writeJSON(w, http.StatusOK, protocol.OKMessage("Entry updated successfully", e))
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.Check(ClientIP(r), gate.ActionDelete, ""); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKMessage("Entry deleted successfully", struct{}{}))
}

func (s *Server) cooldownStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.OK(statusBody(s.gate.Status(ClientIP(r)))))
}

// reportAttack blocks the caller after its own client detected an attack in
// content it was about to submit. A successful report still answers 403.
func (s *Server) reportAttack(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	// The body is optional.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return
	}

	label := reportLabel(req.AttackType)
	until, err := s.gate.Report(ClientIP(r), label)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if label == "" {
		label = gate.DefaultReportReason
	}

	secs := clock.CeilSeconds(until.Sub(s.clock.Now()))
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusForbidden, protocol.Rejection{
		Code:             "Reported",
		Error:            "Attack attempt detected",
		Message:          "Attack attempt detected, you are blocked for " + humanDuration(s.gate.Config().ReportBlock) + ".",
		AttackType:       label,
		RemainingSeconds: secs,
		BlockedUntil:     protocol.FormatTime(until),
		Cooldown:         blockedStatus(label, secs),
	})
}

// reportLabel strips markup from a client-supplied label and truncates it.
func reportLabel(raw string) string {
	label := moderation.Sanitize(raw)
	if r := []rune(label); len(r) > maxReportLabel {
		label = string(r[:maxReportLabel])
	}
	return label
}
