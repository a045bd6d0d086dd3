package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/menta2k/vision-studio/pkg/client"
)

const completion = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "test-model",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "hello", "refusal": ""},
		"finish_reason": "stop"
	}]
}`

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", "", nil); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestQuery(t *testing.T) {
	var body struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion))
	}))
	defer server.Close()

	c, err := NewClient(server.URL+"/v1", "", server.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	reply, err := c.Query(context.Background(), client.Request{
		Model:        "test-model",
		SystemPrompt: "sys",
		Prompt:       "what is this?",
		Image:        []byte("img"),
		MIMEType:     "image/png",
		Temperature:  0.5,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != "hello" {
		t.Errorf("Expected 'hello', got %q", reply)
	}

	if body.Model != "test-model" || body.Temperature != 0.5 {
		t.Errorf("Unexpected model/temperature: %s %v", body.Model, body.Temperature)
	}
	if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Role != "user" {
		t.Fatalf("Unexpected messages: %+v", body.Messages)
	}
	if !strings.Contains(string(body.Messages[1].Content), "data:image/png;base64,aW1n") {
		t.Errorf("Image data URL missing from user message: %s", body.Messages[1].Content)
	}
}

func TestQueryNoRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, "key", server.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := c.Query(context.Background(), client.Request{Model: "m", Prompt: "p"}); err == nil {
		t.Error("Expected an error for 503")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected exactly 1 call, got %d", n)
	}
}

func TestQueryEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "", server.Client())
	if _, err := c.Query(context.Background(), client.Request{Model: "m", Prompt: "p"}); err == nil {
		t.Error("Expected an error for empty choices")
	}
}

func TestDataURL(t *testing.T) {
	if got := DataURL("", []byte("abc")); got != "data:image/jpeg;base64,YWJj" {
		t.Errorf("Unexpected data URL %q", got)
	}
}
