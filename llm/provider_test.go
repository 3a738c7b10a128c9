package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"lmstudio", "*llm.vendorProvider"},
		{"openrouter", "*llm.vendorProvider"},
		{"openai", "*llm.vendorProvider"},
		{"groq", "*llm.vendorProvider"},
		{"xai", "*llm.vendorProvider"},
		{"gemini", "*llm.vendorProvider"},
		{"custom", "*llm.openAICompatProvider"},
		{"local", "*llm.Hashing"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, got, tt.wantType)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	if want := "unknown llm provider: doesnotexist"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	if _, err := NewProvider(Config{}); err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
}

func TestVendorDefaults(t *testing.T) {
	tests := []struct {
		provider   string
		wantURL    string
		wantPrefix string
	}{
		{"lmstudio", "http://localhost:1234", "/v1"},
		{"openrouter", "https://openrouter.ai/api", "/v1"},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai", ""},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider})
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			vp := p.(*vendorProvider)
			if vp.base.cfg.BaseURL != tt.wantURL {
				t.Errorf("BaseURL = %q, want %q", vp.base.cfg.BaseURL, tt.wantURL)
			}
			if vp.base.pathPrefix != tt.wantPrefix {
				t.Errorf("pathPrefix = %q, want %q", vp.base.pathPrefix, tt.wantPrefix)
			}
		})
	}
}

func TestExplicitBaseURLPreserved(t *testing.T) {
	customURL := "http://my-server:9999"
	for _, name := range []string{"lmstudio", "openrouter", "openai", "xai"} {
		t.Run(name, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: name, BaseURL: customURL, APIKey: "k"})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", name, err)
			}
			vp := p.(*vendorProvider)
			if vp.base.cfg.BaseURL != customURL {
				t.Errorf("BaseURL = %q, want %q", vp.base.cfg.BaseURL, customURL)
			}
			if vp.base.cfg.APIKey != "k" {
				t.Errorf("APIKey = %q, want %q", vp.base.cfg.APIKey, "k")
			}
		})
	}
}

func TestClientTimeoutDefault(t *testing.T) {
	c := newOpenAICompatClient(Config{})
	if c.client.Timeout != 120*time.Second {
		t.Errorf("timeout = %v, want 120s", c.client.Timeout)
	}
	c = newOpenAICompatClient(Config{Timeout: 3 * time.Second})
	if c.client.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", c.client.Timeout)
	}
}

func TestChatJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"ok\":true}"},"finish_reason":"stop"}],"model":"m","usage":{"total_tokens":7}}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m", APIKey: "secret"})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages:       []Message{{Role: "user", Content: "hi"}},
		ResponseFormat: "json_object",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TotalTokens != 7 {
		t.Errorf("total tokens = %d, want 7", resp.TotalTokens)
	}
}

func TestSingleAttemptWithoutRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, MaxRetries: 0})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected error from 503 response")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestContextDeadlineStopsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewOpenAICompat(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Chat(ctx, ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("request outlived context: %v", elapsed)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[2,2],"index":1},{"embedding":[1,1],"index":0}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL})
	got, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("embeddings out of order: %v", got)
	}
}

func TestHashingDeterministicAndNormalized(t *testing.T) {
	h := NewHashing(64)
	a, err := h.Embed(context.Background(), []string{"Go SQL go", "Go SQL go", ""})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a[0]) != 64 {
		t.Fatalf("dim = %d, want 64", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("vectors differ at %d", i)
		}
	}
	var sum float64
	for _, f := range a[0] {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("squared norm = %f, want 1", sum)
	}
	if a[2] != nil {
		t.Errorf("empty text should yield nil vector, got %d values", len(a[2]))
	}
}

func TestHashingChatUnsupported(t *testing.T) {
	_, err := NewHashing(8).Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}
