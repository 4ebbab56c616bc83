package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securelog/entries-api/internal/ban"
	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/entry"
	"github.com/securelog/entries-api/internal/gate"
	"github.com/securelog/entries-api/internal/ratelimit"
)

const testIP = "203.0.113.50"

type testEnv struct {
	clock   *clock.Manual
	store   entry.Store
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return newTestEnvWithStore(t, clk, entry.NewMemoryStore(clk))
}

func newTestEnvWithStore(t *testing.T, clk *clock.Manual, store entry.Store) *testEnv {
	t.Helper()
	g := gate.New(clk, ban.NewLedger(clk, ban.Config{}), ratelimit.NewLimiter(clk), gate.Config{}, nil)
	srv := NewServer(g, store, clk, Config{StreamInterval: 10 * time.Millisecond})
	return &testEnv{clock: clk, store: store, handler: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doFrom(t, testIP, method, path, body)
}

func (e *testEnv) doFrom(t *testing.T, ip, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

func content(s string) map[string]string {
	return map[string]string{"contenido": s}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2025-01-01T00:00:00.000Z", body["timestamp"])
}

func TestCreateAndRead(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/entries", content("  <b>Hello</b> world!  "))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Hello world!", data["contenido"])
	assert.NotContains(t, data, "ipAddress")
	id := data["id"].(string)

	rec = env.do(t, "GET", "/api/v1/entries/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world!", decode(t, rec)["data"].(map[string]any)["contenido"])

	rec = env.do(t, "GET", "/api/v1/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Equal(t, float64(1), list["count"])
}

func TestCreate_AcceptsContentField(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/entries", map[string]string{"content": "english field name"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestList_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"count":0,"data":[]}`, rec.Body.String())
}

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/entries/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Entry not found", decode(t, rec)["error"])
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"too short", content("short"), http.StatusBadRequest, "must be at least 10 characters"},
		{"too long", content(strings.Repeat("a", 51)), http.StatusBadRequest, "must not exceed 50 characters"},
		{"empty after strip", content("<p></p>"), http.StatusBadRequest, "is empty after sanitization"},
		{"missing field", map[string]string{}, http.StatusBadRequest, "is empty after sanitization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, "POST", "/api/v1/entries", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode(t, rec)
			details := body["details"].([]any)
			require.Len(t, details, 1)
			d := details[0].(map[string]any)
			assert.Equal(t, "contenido", d["field"])
			assert.Equal(t, tt.message, d["message"])
		})
	}
}

func TestCreate_ValidationFailureStartsNoCooldown(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/v1/entries", content("short")).Code)
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/entries", content("long enough now")).Code)
}

func TestCreate_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/entries", `{"contenido":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", decode(t, rec)["error"])
}

func TestCreate_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	big := `{"contenido":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	rec := env.do(t, "POST", "/api/v1/entries", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreate_AttackBlocksCaller(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/entries", content("<script>alert(1)</script>"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "AttackDetected", body["code"])
	assert.Equal(t, "XSS", body["attackType"])
	assert.Equal(t, "2025-01-01T00:15:00.000Z", body["blockedUntil"])
	assert.Equal(t, float64(900), body["remainingSeconds"])
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))

	env.clock.Advance(10 * time.Minute)
	rec = env.do(t, "POST", "/api/v1/entries", content("a perfectly benign entry"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "Blocked", body["code"])
	assert.Equal(t, float64(300), body["remainingSeconds"])
	assert.Equal(t, "2025-01-01T00:15:00.000Z", body["blockedUntil"])
	cd := body["cooldown"].(map[string]any)
	assert.Equal(t, "blocked", cd["type"])
	assert.Equal(t, "XSS", cd["reason"])

	// Another client is unaffected.
	rec = env.doFrom(t, "198.51.100.9", "POST", "/api/v1/entries", content("a perfectly benign entry"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	env.clock.Advance(5 * time.Minute)
	rec = env.do(t, "POST", "/api/v1/entries", content("a perfectly benign entry"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreate_AttackNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/entries", content("1' OR '1'='1"))
	entries, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		rec := env.do(t, "DELETE", "/api/v1/entries/missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code, "request %d", i+1)
	}
	rec := env.do(t, "DELETE", "/api/v1/entries/missing", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "RateLimited", body["code"])
	assert.Equal(t, float64(10), body["remainingSeconds"])
	assert.Contains(t, body["message"], "5 actions every 10 seconds")

	env.clock.Advance(10 * time.Second)
	rec = env.do(t, "POST", "/api/v1/entries", content("after the window"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCooldown(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/entries", content("first entry text")).Code)

	rec := env.do(t, "POST", "/api/v1/entries", content("second entry text"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "CooldownActive", body["code"])
	assert.Equal(t, float64(30), body["remainingSeconds"])
	assert.Equal(t, "2025-01-01T00:00:30.000Z", body["cooldownEndsAt"])

	env.clock.Advance(30 * time.Second)
	rec = env.do(t, "POST", "/api/v1/entries", content("second entry text"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t)
	e, err := env.store.Create(context.Background(), "original entry", "")
	require.NoError(t, err)

	rec := env.do(t, "PUT", "/api/v1/entries/"+e.ID, content("updated entry text"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "updated entry text", decode(t, rec)["data"].(map[string]any)["contenido"])

	// The update started a cooldown.
	rec = env.do(t, "PUT", "/api/v1/entries/"+e.ID, content("updated once more"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUpdate_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "PUT", "/api/v1/entries/missing", content("valid entry text"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Nothing was persisted, so no cooldown either.
	rec = env.do(t, "POST", "/api/v1/entries", content("valid entry text"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	e, err := env.store.Create(context.Background(), "entry to delete", "")
	require.NoError(t, err)

	rec := env.do(t, "DELETE", "/api/v1/entries/"+e.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Entry deleted successfully","data":{}}`, rec.Body.String())

	rec = env.do(t, "DELETE", "/api/v1/entries/"+e.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete_Blocked(t *testing.T) {
	env := newTestEnv(t)
	e, err := env.store.Create(context.Background(), "entry to keep", "")
	require.NoError(t, err)

	env.do(t, "POST", "/api/v1/entries/report-attack", map[string]string{"attackType": "XSS"})
	rec := env.do(t, "DELETE", "/api/v1/entries/"+e.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err = env.store.Get(context.Background(), e.ID)
	assert.NoError(t, err)
}

func TestCooldownStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/entries/cooldown/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"active":false,"remainingSeconds":0}}`, rec.Body.String())

	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/entries", content("first entry text")).Code)
	env.clock.Advance(12*time.Second + 500*time.Millisecond)

	rec = env.do(t, "GET", "/api/v1/entries/cooldown/status", nil)
	assert.JSONEq(t, `{"success":true,"data":{"active":true,"type":"cooldown","remainingSeconds":18}}`, rec.Body.String())

	// Repeated reads without mutation are identical.
	again := env.do(t, "GET", "/api/v1/entries/cooldown/status", nil)
	assert.Equal(t, rec.Body.String(), again.Body.String())
}

func TestCooldownStatus_BlockTakesPrecedence(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/entries", content("first entry text")).Code)
	env.do(t, "POST", "/api/v1/entries/report-attack", map[string]string{"attackType": "SQL Injection"})

	rec := env.do(t, "GET", "/api/v1/entries/cooldown/status", nil)
	assert.JSONEq(t,
		`{"success":true,"data":{"active":true,"type":"blocked","remainingSeconds":300,"reason":"SQL Injection"}}`,
		rec.Body.String())
}

func TestReportAttack(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/entries/report-attack", map[string]string{"attackType": "<b>XSS</b>"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Reported", body["code"])
	assert.Equal(t, "XSS", body["attackType"])
	assert.Equal(t, float64(300), body["remainingSeconds"])
	assert.Equal(t, "2025-01-01T00:05:00.000Z", body["blockedUntil"])
	assert.Contains(t, body["message"], "5 minutes")

	rec = env.do(t, "POST", "/api/v1/entries", content("a benign entry text"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReportAttack_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/entries/report-attack", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, gate.DefaultReportReason, decode(t, rec)["attackType"])
}

func TestReportAttack_KeepsAttackBlock(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/entries", content("$(rm -rf /)"))

	rec := env.do(t, "POST", "/api/v1/entries/report-attack", map[string]string{"attackType": "XSS"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Blocked", body["code"])
	assert.Equal(t, float64(900), body["remainingSeconds"])
}

type failingStore struct{ entry.Store }

func (failingStore) List(context.Context) ([]*entry.Entry, error) {
	return nil, errors.New("pq: connection refused to 10.1.2.3")
}

func TestInternalErrorHidesDetail(t *testing.T) {
	clk := clock.NewManual(time.Now())
	env := newTestEnvWithStore(t, clk, failingStore{})

	rec := env.do(t, "GET", "/api/v1/entries", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Internal server error"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/entries", content("<script>alert(1)</script>"))

	rec := env.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "securelog_gate_decisions_total")
	assert.Contains(t, rec.Body.String(), "securelog_attacks_detected_total")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "15 minutes", humanDuration(15*time.Minute))
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
	assert.Equal(t, "10 seconds", humanDuration(10*time.Second))
	assert.Equal(t, "90 seconds", humanDuration(90*time.Second))
}
