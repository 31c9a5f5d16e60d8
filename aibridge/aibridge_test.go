package aibridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/botforgehq/botforge/model"
)

func TestNilConfigSkipsNetwork(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	b := New()
	b.OpenAIURL = srv.URL
	b.AnthropicURL = srv.URL

	if got := b.Complete(context.Background(), nil, "hello"); got != msgNotConfigured {
		t.Fatalf("unexpected reply: %q", got)
	}
	if atomic.LoadInt64(&hits) != 0 {
		t.Fatal("nil config must not hit the network")
	}
}

func TestMissingKeySkipsNetwork(t *testing.T) {
	b := New()
	cfg := &model.AIConfig{Provider: model.ProviderOpenAI}
	if got := b.Complete(context.Background(), cfg, "hello"); got != msgMissingConfig {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestOpenAICompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer srv.Close()

	b := New()
	b.OpenAIURL = srv.URL
	cfg := &model.AIConfig{Provider: model.ProviderOpenAI, APIKey: "sk-test"}
	if got := b.Complete(context.Background(), cfg, "hello"); got != "hi there" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestAnthropicCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "ak-test" {
			t.Errorf("unexpected key header: %q", got)
		}
		w.Write([]byte(`{"completion":"greetings"}`))
	}))
	defer srv.Close()

	b := New()
	b.AnthropicURL = srv.URL
	cfg := &model.AIConfig{Provider: model.ProviderAnthropic, APIKey: "ak-test"}
	if got := b.Complete(context.Background(), cfg, "hello"); got != "greetings" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestHTTPErrorDowngradesToApology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := New()
	b.OpenAIURL = srv.URL
	cfg := &model.AIConfig{Provider: model.ProviderOpenAI, APIKey: "sk-test"}
	if got := b.Complete(context.Background(), cfg, "hello"); got != msgRequestFailed {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestUnsupportedProvider(t *testing.T) {
	b := New()
	cfg := &model.AIConfig{Provider: model.ProviderCustom, APIKey: "k", CustomName: "n", CustomURL: "u"}
	if got := b.Complete(context.Background(), cfg, "hello"); got != msgUnsupported {
		t.Fatalf("unexpected reply: %q", got)
	}
}
