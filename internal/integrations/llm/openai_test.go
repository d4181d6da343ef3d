package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestOpenAIClientComplete(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":10,"completion_tokens":3}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "gpt-test", server.URL+"/v1/", server.Client(), testLog())
	got, err := client.Complete(context.Background(), "cluster prompt")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("got %q, want {\"ok\":true}", got)
	}
	if gotReq.Model != "gpt-test" || len(gotReq.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Content != "cluster prompt" {
		t.Fatalf("unexpected messages: %+v", gotReq.Messages)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %+v", gotReq.ResponseFormat)
	}
}

func TestOpenAIClientStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"no key"}}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, false},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewOpenAIClient("sk", "m", server.URL, server.Client(), testLog())
			_, err := client.Complete(context.Background(), "p")
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if statusErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", statusErr.StatusCode, tt.status)
			}
			if statusErr.Permanent() != tt.permanent {
				t.Fatalf("Permanent() = %v, want %v", statusErr.Permanent(), tt.permanent)
			}
		})
	}
}

func TestOpenAIClientNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("sk", "m", server.URL, server.Client(), testLog())
	_, err := client.Complete(context.Background(), "p")
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("expected no choices error, got %v", err)
	}
}

func TestAnthropicClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "cluster prompt") {
			t.Errorf("prompt missing from request body: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"recommendation\":\"x\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	client := NewAnthropicClient("key", "claude-test", server.URL, server.Client(), testLog())
	got, err := client.Complete(context.Background(), "cluster prompt")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if got != `{"recommendation":"x"}` {
		t.Fatalf("got %q", got)
	}
}

func TestAnthropicClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClient("key", "claude-test", server.URL, server.Client(), testLog())
	_, err := client.Complete(context.Background(), "p")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadRequest || !statusErr.Permanent() {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Options{Provider: "mystery"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	g, err := New(Options{Provider: "openai", APIKey: "sk", Model: "m", MaxConcurrentCalls: 2, RequestsPerSecond: 1})
	if err != nil {
		t.Fatalf("New openai: %v", err)
	}
	if g.sem == nil || g.limiter == nil {
		t.Fatal("expected concurrency and rate limits to be configured")
	}
}
