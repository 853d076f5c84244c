package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/saathi-labs/saathi/internal/archive"
	"github.com/saathi-labs/saathi/internal/compactor"
	"github.com/saathi-labs/saathi/internal/gateway"
	"github.com/saathi-labs/saathi/internal/llm"
	"github.com/saathi-labs/saathi/internal/onboarding"
	"github.com/saathi-labs/saathi/internal/orchestrator"
	"github.com/saathi-labs/saathi/internal/session"
	"github.com/saathi-labs/saathi/internal/tools"
)

type cannedBackend struct {
	reply string
}

func (c *cannedBackend) Generate(ctx context.Context, model string, req llm.Request) (*llm.Result, error) {
	return &llm.Result{Text: c.reply, Model: model}, nil
}

// newTestServer wires a full pipeline over a canned backend and returns
// the httptest server plus the archive store (nil when path is empty).
func newTestServer(t *testing.T, reply, archivePath string) (*httptest.Server, *archive.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var arch *archive.Store
	if archivePath != "" {
		var err error
		arch, err = archive.Open(archivePath, logger)
		if err != nil {
			t.Fatalf("archive.Open: %v", err)
		}
		t.Cleanup(func() { arch.Close() })
	}

	sessions := session.NewStore(0, logger)
	gw := gateway.New(&cannedBackend{reply: reply}, gateway.Config{
		Models: []string{"primary"},
	}, logger)
	comp := compactor.New(gw, compactor.Config{}, logger)
	orch := orchestrator.New(sessions, gw, comp, tools.NewRegistry(logger),
		onboarding.NewEngine(), arch, orchestrator.Config{APIKey: "test-key"}, logger)

	srv := NewServer("", 0, orch, arch, time.Millisecond, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, arch
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func chatBody(message, sessionID string) map[string]any {
	return map[string]any{
		"message":   message,
		"sessionId": sessionID,
		"language":  "en",
		"customerContext": map[string]any{
			"customerId": "c-1",
			"name":       "Ravi",
			"loanStatus": "active",
			"emiAmount":  2825,
		},
	}
}

func TestChatEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "Your EMI is 2825.", "")

	resp := postJSON(t, ts.URL+"/v1/chat", chatBody("when is my emi due", "s1"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result struct {
		Message            string  `json:"message"`
		Agent              string  `json:"agent"`
		NextAction         string  `json:"nextAction"`
		Confidence         float64 `json:"confidence"`
		RequiresEscalation bool    `json:"requiresEscalation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Message != "Your EMI is 2825." {
		t.Errorf("message = %q", result.Message)
	}
	if result.Agent != "PaymentSupportAgent" {
		t.Errorf("agent = %q", result.Agent)
	}
	if result.NextAction != "fetch_payment_info" {
		t.Errorf("nextAction = %q", result.NextAction)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v", result.Confidence)
	}
}

func TestChatValidation(t *testing.T) {
	ts, _ := newTestServer(t, "hi", "")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing message", map[string]any{"sessionId": "s1"}},
		{"missing sessionId", map[string]any{"message": "hello"}},
		{"empty body", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/chat", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSessionReset(t *testing.T) {
	ts, _ := newTestServer(t, "hello", "")

	resp := postJSON(t, ts.URL+"/v1/chat", chatBody("hello", "s1"))
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/session/reset", map[string]any{"sessionId": "s1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "reset" {
		t.Errorf("status field = %q", out["status"])
	}
}

func TestGatewayHealth(t *testing.T) {
	ts, _ := newTestServer(t, "hi", "")

	resp, err := http.Get(ts.URL + "/v1/gateway/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Models      []string `json:"models"`
		Healthy     []string `json:"healthy"`
		BreakerOpen bool     `json:"breaker_open"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(health.Models) != 1 || health.Models[0] != "primary" {
		t.Errorf("models = %v", health.Models)
	}
	if health.BreakerOpen {
		t.Error("breaker open on a fresh gateway")
	}
}

func TestStreamFraming(t *testing.T) {
	const reply = "Hello there,\nhow can I help?"
	ts, _ := newTestServer(t, reply, "")

	resp := postJSON(t, ts.URL+"/v1/chat/stream", chatBody("hello", "s1"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)

	if !strings.HasPrefix(body, metaStart) {
		t.Fatalf("stream does not open with meta sentinel: %q", body[:min(len(body), 40)])
	}
	end := strings.Index(body, metaEnd)
	if end < 0 {
		t.Fatal("meta end sentinel missing")
	}

	var meta streamMeta
	if err := json.Unmarshal([]byte(body[len(metaStart):end]), &meta); err != nil {
		t.Fatalf("meta block is not valid JSON: %v", err)
	}
	if meta.Agent != "GeneralSupportAgent" {
		t.Errorf("meta agent = %q", meta.Agent)
	}
	if meta.Confidence != 0.9 {
		t.Errorf("meta confidence = %v", meta.Confidence)
	}

	// Concatenated fragments must reproduce the reply exactly,
	// interior whitespace included.
	if got := body[end+len(metaEnd):]; got != reply {
		t.Errorf("streamed text = %q, want %q", got, reply)
	}
}

func TestWebsocketChat(t *testing.T) {
	ts, _ := newTestServer(t, "Websocket reply here.", "")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(chatBody("hello", "s1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var meta wsFrame
	if err := conn.ReadJSON(&meta); err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.Kind != "meta" || meta.Meta == nil {
		t.Fatalf("first frame = %+v, want meta", meta)
	}
	if meta.Meta.Agent != "GeneralSupportAgent" {
		t.Errorf("agent = %q", meta.Meta.Agent)
	}

	var text strings.Builder
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if frame.Kind == "done" {
			break
		}
		if frame.Kind != "text" {
			t.Fatalf("unexpected frame kind %q", frame.Kind)
		}
		text.WriteString(frame.Text)
	}
	if text.String() != "Websocket reply here." {
		t.Errorf("assembled text = %q", text.String())
	}
}

func TestArchiveEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, "archived reply", t.TempDir()+"/archive.db")

	resp := postJSON(t, ts.URL+"/v1/chat", chatBody("hello", "s-arch"))
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/archive/sessions/s-arch")
	if err != nil {
		t.Fatalf("GET transcript: %v", err)
	}
	defer resp.Body.Close()
	var transcript struct {
		Turns []archive.Turn `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&transcript); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(transcript.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(transcript.Turns))
	}
	if transcript.Turns[1].Text != "archived reply" {
		t.Errorf("agent turn text = %q", transcript.Turns[1].Text)
	}

	resp2, err := http.Get(ts.URL + "/v1/archive/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp2.Body.Close()
	var stats archive.Stats
	if err := json.NewDecoder(resp2.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Turns != 2 || stats.Sessions != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestArchiveDisabled(t *testing.T) {
	ts, _ := newTestServer(t, "hi", "")

	resp, err := http.Get(ts.URL + "/v1/archive/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts, _ := newTestServer(t, "hi", "")

	for _, path := range []string{"/health", "/v1/version", "/"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d", path, resp.StatusCode)
		}
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"words and spaces", "a b", []string{"a", " ", "b"}},
		{"leading space", " hi", []string{" ", "hi"}},
		{"multi whitespace run", "a \n\tb", []string{"a", " \n\t", "b"}},
		{"empty", "", nil},
		{"single word", "hello", []string{"hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("fragment %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			var joined strings.Builder
			for _, f := range got {
				joined.WriteString(f)
			}
			if joined.String() != tt.in {
				t.Errorf("fragments do not reassemble: %q", joined.String())
			}
		})
	}
}
