// Package main implements a standalone end-to-end test for the entries API.
// It runs the abuse-mitigation scenarios against a running server: health,
// entry CRUD, cooldown, rate limiting, attack detection, client reports and
// the status stream.
//
// Every scenario sends its own X-Forwarded-For address so that the abuse
// state left behind by one scenario does not leak into the next.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-api http://localhost:3000] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase := flag.String("api", "http://localhost:3000", "HTTP API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Entries API E2E Test ===")
	fmt.Printf("Server: %s\n\n", *apiBase)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := &apiClient{base: strings.TrimRight(*apiBase, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	results := []scenarioResult{
		scenario1Health(ctx, c),
		scenario2EntryLifecycle(ctx, c),
		scenario3Cooldown(ctx, c),
		scenario4RateLimit(ctx, c),
		scenario5AttackBlock(ctx, c),
		scenario6Report(ctx, c),
		scenario7Stream(ctx, c),
	}

	fmt.Println()
	passed, failed, info, requiredTotal := 0, 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()
		switch r.kind {
		case resultPass:
			passed++
			requiredTotal++
		case resultFail:
			failed++
			requiredTotal++
		default:
			info++
		}
	}

	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenario1Health(ctx context.Context, c *apiClient) scenarioResult {
	const name = "Scenario 1: Health check"

	var body struct {
		Status string `json:"status"`
	}
	if _, err := c.do(ctx, freshIP(), http.MethodGet, "/health", nil, &body); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	if body.Status != "ok" {
		return scenarioResult{name, resultFail, fmt.Sprintf("status=%q", body.Status)}
	}
	if _, err := c.do(ctx, freshIP(), http.MethodGet, "/metrics", nil, nil); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	return scenarioResult{name, resultPass, ""}
}

func scenario2EntryLifecycle(ctx context.Context, c *apiClient) scenarioResult {
	const name = "Scenario 2: Create, read, delete"
	ip := freshIP()

	text := "e2e entry " + uuid.NewString()[:8]
	var created envelope[entryBody]
	code, err := c.do(ctx, ip, http.MethodPost, "/api/v1/entries", map[string]string{"contenido": text}, &created)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("create: %v", err)}
	}
	if code != http.StatusCreated || created.Data.ID == "" {
		return scenarioResult{name, resultFail, fmt.Sprintf("create: status %d", code)}
	}

	var got envelope[entryBody]
	if _, err := c.do(ctx, ip, http.MethodGet, "/api/v1/entries/"+created.Data.ID, nil, &got); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("get: %v", err)}
	}
	if got.Data.Contenido != text {
		return scenarioResult{name, resultFail, fmt.Sprintf("content mismatch: expected %q, got %q", text, got.Data.Contenido)}
	}

	if code, err = c.do(ctx, ip, http.MethodDelete, "/api/v1/entries/"+created.Data.ID, nil, nil); err != nil || code != http.StatusOK {
		return scenarioResult{name, resultFail, fmt.Sprintf("delete: status %d err %v", code, err)}
	}
	code, _ = c.do(ctx, ip, http.MethodGet, "/api/v1/entries/"+created.Data.ID, nil, nil)
	if code != http.StatusNotFound {
		return scenarioResult{name, resultFail, fmt.Sprintf("get after delete: status %d", code)}
	}
	return scenarioResult{name, resultPass, "id=" + truncateID(created.Data.ID)}
}

func scenario3Cooldown(ctx context.Context, c *apiClient) scenarioResult {
	const name = "Scenario 3: Cooldown after create"
	ip := freshIP()

	if code, err := c.do(ctx, ip, http.MethodPost, "/api/v1/entries", map[string]string{"contenido": "first"}, nil); err != nil || code != http.StatusCreated {
		return scenarioResult{name, resultFail, fmt.Sprintf("first create: status %d err %v", code, err)}
	}

	var rej rejection
	code, err := c.do(ctx, ip, http.MethodPost, "/api/v1/entries", map[string]string{"contenido": "second"}, &rej)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("second create: %v", err)}
	}
	if code != http.StatusTooManyRequests || rej.Code != "CooldownActive" {
		return scenarioResult{name, resultFail, fmt.Sprintf("second create: status %d code %q", code, rej.Code)}
	}

	var st envelope[cooldownBody]
	if _, err := c.do(ctx, ip, http.MethodGet, "/api/v1/entries/cooldown/status", nil, &st); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("status: %v", err)}
	}
	if !st.Data.Active || st.Data.Type != "cooldown" {
		return scenarioResult{name, resultFail, fmt.Sprintf("status: active=%v type=%q", st.Data.Active, st.Data.Type)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("remaining=%ds", rej.RemainingSeconds)}
}

func scenario4RateLimit(ctx context.Context, c *apiClient) scenarioResult {
	const name = "Scenario 4: Rate limiting"
	ip := freshIP()

	// Deletes of unknown ids count against the window without starting a
	// cooldown, so the limit is reached without tripping anything else.
	for i := 1; i <= 100; i++ {
		var rej rejection
		code, err := c.do(ctx, ip, http.MethodDelete, "/api/v1/entries/"+uuid.NewString(), nil, &rej)
		if err != nil {
			return scenarioResult{name, resultFail, fmt.Sprintf("request %d: %v", i, err)}
		}
		if code == http.StatusTooManyRequests {
			if rej.Code != "RateLimited" {
				return scenarioResult{name, resultFail, fmt.Sprintf("code %q", rej.Code)}
			}
			return scenarioResult{name, resultPass, fmt.Sprintf("limited after %d requests", i)}
		}
	}
	return scenarioResult{name, resultFail, "no 429 after 100 requests"}
}

func scenario5AttackBlock(ctx context.Context, c *apiClient) scenarioResult {
	const name = "Scenario 5: Attack detection blocks client"
	ip := freshIP()

	var rej rejection
	code, err := c.do(ctx, ip, http.MethodPost, "/api/v1/entries",
		map[string]string{"contenido": `<script>alert(1)</script>`}, &rej)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("attack: %v", err)}
	}
	if code != http.StatusForbidden || rej.Code != "AttackDetected" {
		return scenarioResult{name, resultFail, fmt.Sprintf("attack: status %d code %q", code, rej.Code)}
	}

	rej = rejection{}
	code, err = c.do(ctx, ip, http.MethodPost, "/api/v1/entries", map[string]string{"contenido": "harmless"}, &rej)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("follow-up: %v", err)}
	}
	if code != http.StatusForbidden || rej.Code != "Blocked" {
		return scenarioResult{name, resultFail, fmt.Sprintf("follow-up: status %d code %q", code, rej.Code)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("attack=%s, remaining=%ds", rej.AttackType, rej.RemainingSeconds)}
}

func scenario6Report(ctx context.Context, c *apiClient) scenarioResult {
	const name = "Scenario 6: Client attack report"
	ip := freshIP()

	var rej rejection
	code, err := c.do(ctx, ip, http.MethodPost, "/api/v1/entries/report-attack",
		map[string]string{"attackType": "SQL Injection"}, &rej)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("report: %v", err)}
	}
	if code != http.StatusForbidden || rej.BlockedUntil == "" {
		return scenarioResult{name, resultFail, fmt.Sprintf("report: status %d blockedUntil %q", code, rej.BlockedUntil)}
	}

	var st envelope[cooldownBody]
	if _, err := c.do(ctx, ip, http.MethodGet, "/api/v1/entries/cooldown/status", nil, &st); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("status: %v", err)}
	}
	if st.Data.Type != "blocked" || st.Data.Reason != "SQL Injection" {
		return scenarioResult{name, resultFail, fmt.Sprintf("status: type=%q reason=%q", st.Data.Type, st.Data.Reason)}
	}
	return scenarioResult{name, resultPass, "until=" + rej.BlockedUntil}
}

// scenario7Stream is informational: proxies in front of the server may not
// pass websocket upgrades through.
func scenario7Stream(ctx context.Context, c *apiClient) scenarioResult {
	const name = "Scenario 7: Status stream"
	ip := freshIP()

	if _, err := c.do(ctx, ip, http.MethodPost, "/api/v1/entries", map[string]string{"contenido": "stream me"}, nil); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("setup failed: %v", err)}
	}

	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(http.Header{"X-Forwarded-For": []string{ip}})}
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/api/v1/entries/cooldown/stream"
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, _, _, err := dialer.Dial(dialCtx, url)
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("read: %v", err)}
	}
	var frame struct {
		Type             string `json:"type"`
		Kind             string `json:"kind"`
		RemainingSeconds int    `json:"remainingSeconds"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("frame JSON parse: %v", err)}
	}
	if frame.Type != "status" || frame.Kind != "cooldown" {
		return scenarioResult{name, resultFail, fmt.Sprintf("frame type=%q kind=%q", frame.Type, frame.Kind)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("remaining=%ds", frame.RemainingSeconds)}
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type entryBody struct {
	ID        string `json:"id"`
	Contenido string `json:"contenido"`
}

type cooldownBody struct {
	Active           bool   `json:"active"`
	Type             string `json:"type"`
	RemainingSeconds int    `json:"remainingSeconds"`
	Reason           string `json:"reason"`
}

type rejection struct {
	Code             string `json:"code"`
	AttackType       string `json:"attackType"`
	RemainingSeconds int    `json:"remainingSeconds"`
	BlockedUntil     string `json:"blockedUntil"`
}

type apiClient struct {
	base string
	http *http.Client
}

// do sends one request as client ip and decodes the response into out when
// out is non-nil. Only transport and decoding failures are errors; the
// status code is returned for the caller to judge.
func (c *apiClient) do(ctx context.Context, ip, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Forwarded-For", ip)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: JSON parse: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// freshIP returns a documentation-range address unlikely to carry state
// from an earlier run.
func freshIP() string {
	return fmt.Sprintf("198.18.%d.%d", rand.IntN(256), 1+rand.IntN(254))
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
