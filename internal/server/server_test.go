package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mindshift/protocol-engine/internal/config"
	"github.com/mindshift/protocol-engine/internal/runtime"
	"github.com/mindshift/protocol-engine/internal/server"
	"github.com/mindshift/protocol-engine/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *runtime.Processor) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	reg := prometheus.NewRegistry()
	proc, err := runtime.New(
		runtime.WithConfig(cfg),
		runtime.WithPersistence(session.NewMemoryStore()),
		runtime.WithRegisterer(reg),
		runtime.WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	srv := server.New(proc, discardLogger(), server.Config{APIKey: apiKey, Gatherer: reg})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, proc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

type sessionPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Modality  string `json:"modality"`
	Status    string `json:"status"`
	Step      string `json:"step"`
	Prompt    string `json:"prompt"`
}

type turnPayload struct {
	Result struct {
		RequiresRetry bool   `json:"requires_retry"`
		SafetyFlagged bool   `json:"safety_flagged"`
		Reason        string `json:"reason"`
	} `json:"result"`
	Step   string `json:"step"`
	Status string `json:"status"`
	Prompt string `json:"prompt"`
}

func createSession(t *testing.T, ts *httptest.Server, modality string) sessionPayload {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/sessions", map[string]string{
		"user_id":  "user-1",
		"modality": modality,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
	return decode[sessionPayload](t, resp)
}

func TestCreateTurnUndoFlow(t *testing.T) {
	ts, _ := newTestServer(t, "")

	created := createSession(t, ts, "problem")
	if created.SessionID == "" || created.Step != "problem_capture" || created.Prompt == "" {
		t.Fatalf("unexpected session payload: %+v", created)
	}

	base := fmt.Sprintf("%s/v1/sessions/%s", ts.URL, created.SessionID)

	resp := postJSON(t, base+"/turns", map[string]string{"input": "I keep procrastinating on my thesis"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", resp.StatusCode)
	}
	turn := decode[turnPayload](t, resp)
	if turn.Result.RequiresRetry || turn.Step == "problem_capture" {
		t.Fatalf("turn did not advance: %+v", turn)
	}
	if turn.Prompt == "" {
		t.Fatal("turn response missing next prompt")
	}

	resp = postJSON(t, base+"/undo", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("undo status = %d", resp.StatusCode)
	}
	restored := decode[sessionPayload](t, resp)
	if restored.Step != "problem_capture" {
		t.Fatalf("restored step = %s", restored.Step)
	}

	resp = postJSON(t, base+"/undo", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("undo on empty history status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTurnRetryResponse(t *testing.T) {
	ts, _ := newTestServer(t, "")
	created := createSession(t, ts, "problem")

	resp := postJSON(t, fmt.Sprintf("%s/v1/sessions/%s/turns", ts.URL, created.SessionID),
		map[string]string{"input": "ok"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry turn status = %d", resp.StatusCode)
	}
	turn := decode[turnPayload](t, resp)
	if !turn.Result.RequiresRetry {
		t.Fatalf("want retry result, got %+v", turn)
	}
	if turn.Step != "problem_capture" {
		t.Fatalf("retry moved the session: %s", turn.Step)
	}
}

func TestGetSession(t *testing.T) {
	ts, _ := newTestServer(t, "")
	created := createSession(t, ts, "identity")

	resp, err := http.Get(fmt.Sprintf("%s/v1/sessions/%s", ts.URL, created.SessionID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session status = %d", resp.StatusCode)
	}
	got := decode[sessionPayload](t, resp)
	if got.SessionID != created.SessionID || got.Modality != "identity" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestAbandonSession(t *testing.T) {
	ts, _ := newTestServer(t, "")
	created := createSession(t, ts, "problem")
	base := fmt.Sprintf("%s/v1/sessions/%s", ts.URL, created.SessionID)

	req, _ := http.NewRequest(http.MethodDelete, base, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("abandon status = %d", resp.StatusCode)
	}

	// Turns on a closed session are conflicts, not server errors.
	resp = postJSON(t, base+"/turns", map[string]string{"input": "hello there"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("turn on closed session status = %d, want 409", resp.StatusCode)
	}
}

func TestErrorMappings(t *testing.T) {
	ts, _ := newTestServer(t, "")

	// Unknown session.
	resp := postJSON(t, ts.URL+"/v1/sessions/nope/turns", map[string]string{"input": "hello there"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", resp.StatusCode)
	}

	// Malformed body.
	r, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", r.StatusCode)
	}

	// Missing user_id.
	resp = postJSON(t, ts.URL+"/v1/sessions", map[string]string{"modality": "problem"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id status = %d, want 400", resp.StatusCode)
	}

	// Unknown modality.
	resp = postJSON(t, ts.URL+"/v1/sessions", map[string]string{"user_id": "u", "modality": "hypnosis"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown modality status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "")
	created := createSession(t, ts, "problem")
	base := fmt.Sprintf("%s/v1/sessions/%s", ts.URL, created.SessionID)

	// Before any turn there is nothing to report.
	resp, err := http.Get(base + "/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stats before turns status = %d, want 404", resp.StatusCode)
	}

	postJSON(t, base+"/turns", map[string]string{"input": "I keep procrastinating on my thesis"}).Body.Close()

	resp, err = http.Get(base + "/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	stats := decode[map[string]any](t, resp)
	if stats["turns"] != float64(1) {
		t.Fatalf("turns = %v, want 1", stats["turns"])
	}
}

func TestAPIKeyEnforcement(t *testing.T) {
	ts, _ := newTestServer(t, "secret-key")

	// No key.
	resp := postJSON(t, ts.URL+"/v1/sessions", map[string]string{"user_id": "u"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no key status = %d, want 401", resp.StatusCode)
	}

	// Wrong key.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions",
		strings.NewReader(`{"user_id":"u"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", r.StatusCode)
	}

	// Correct key.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions",
		strings.NewReader(`{"user_id":"u"}`))
	req.Header.Set("Authorization", "Bearer secret-key")
	r, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusCreated {
		t.Fatalf("correct key status = %d, want 201", r.StatusCode)
	}

	// Health and metrics stay open.
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("healthz body = %v", body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestCreateSessionVersionOverride(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/v1/sessions", map[string]string{
		"user_id": "user-1", "modality": "problem", "version": "v2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	created := decode[struct {
		Version string `json:"version"`
	}](t, resp)
	if created.Version != "v2" {
		t.Fatalf("version = %s, want v2", created.Version)
	}

	resp = postJSON(t, ts.URL+"/v1/sessions", map[string]string{
		"user_id": "user-1", "version": "v9",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown version status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSessionIncludesStats(t *testing.T) {
	ts, _ := newTestServer(t, "")
	created := createSession(t, ts, "problem")
	base := fmt.Sprintf("%s/v1/sessions/%s", ts.URL, created.SessionID)

	postJSON(t, base+"/turns", map[string]string{"input": "I keep procrastinating on my thesis"}).Body.Close()

	resp, err := http.Get(base)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	got := decode[struct {
		Stats *struct {
			Turns int `json:"turns"`
		} `json:"stats"`
	}](t, resp)
	if got.Stats == nil || got.Stats.Turns != 1 {
		t.Fatalf("stats not embedded in session view: %+v", got.Stats)
	}
}
