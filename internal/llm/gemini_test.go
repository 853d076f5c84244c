package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func geminiOK(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestGenerateSuccess(t *testing.T) {
	var gotPath string
	var gotBody geminiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, geminiOK("Hello there."))
	}))
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "test-key", time.Second, testLogger())
	res, err := c.Generate(context.Background(), "gemini-2.0-flash", Request{
		System:      "Be helpful.",
		History:     []Message{{Role: "user", Text: "hi"}, {Role: "model", Text: "hello"}},
		Query:       "what is my EMI?",
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "Hello there." {
		t.Errorf("text = %q", res.Text)
	}
	if res.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q", res.Model)
	}
	if res.Empty {
		t.Error("Empty set on a contentful result")
	}
	if !strings.Contains(gotPath, "gemini-2.0-flash:generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "Be helpful." {
		t.Error("system instruction not sent")
	}
	// History plus the current query.
	if len(gotBody.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(gotBody.Contents))
	}
	last := gotBody.Contents[2]
	if last.Role != "user" || last.Parts[0].Text != "what is my EMI?" {
		t.Errorf("final content = %+v", last)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "test-key", time.Second, testLogger())
	_, err := c.Generate(context.Background(), "gemini-2.0-flash", Request{Query: "hi"})
	if err == nil {
		t.Fatal("want error for 429 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q should carry the status code", err)
	}
}

func TestGenerateEmptyCandidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no candidates", `{"candidates":[]}`},
		{"no parts", `{"candidates":[{"content":{"parts":[]}}]}`},
		{"whitespace only", `{"candidates":[{"content":{"parts":[{"text":"  \n"}]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewGeminiClient(srv.URL, "k", time.Second, testLogger())
			res, err := c.Generate(context.Background(), "m", Request{Query: "hi"})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if !res.Empty {
				t.Error("Empty not set")
			}
			if res.Text != PlaceholderReply {
				t.Errorf("text = %q, want placeholder", res.Text)
			}
		})
	}
}

func TestGenerateContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client closing the
		// connection; otherwise r.Context() is never cancelled and the
		// deferred srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "k", time.Minute, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "m", Request{Query: "hi"})
	if err == nil {
		t.Fatal("want error on cancelled context")
	}
}

func TestJoinParts(t *testing.T) {
	var resp geminiResponse
	body := `{"candidates":[{"content":{"parts":[{"text":"line one"},{"text":"line two"}]}}]}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if got := joinParts(resp); got != "line one\nline two" {
		t.Errorf("joinParts = %q", got)
	}
}
