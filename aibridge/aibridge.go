// Package aibridge maps (AI config, message text) to a reply string by
// calling an external completion API.
//
// The bridge fails softly: every path returns a user-displayable string
// and transport errors are logged, never propagated. This keeps the
// conversation alive no matter what the provider does.
package aibridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/botforgehq/botforge/model"
)

const (
	openaiURL    = "https://api.openai.com/v1/chat/completions"
	anthropicURL = "https://api.anthropic.com/v1/complete"

	openaiModel    = "gpt-3.5-turbo"
	anthropicModel = "claude-2"

	anthropicMaxTokens = 100
	requestTimeout     = 10 * time.Second
)

// Fixed user-facing strings for the soft-failure paths.
const (
	msgNotConfigured = "AI is not configured. Add an API key in the bot builder."
	msgMissingConfig = "The AI configuration is missing a provider or API key."
	msgRequestFailed = "The AI request failed. Please try again later."
	msgUnsupported   = "This AI provider is not supported."
)

// Bridge calls external completion APIs. The zero value is not usable;
// construct with New.
type Bridge struct {
	client *http.Client

	// Endpoint overrides for tests. Empty means the real provider URL.
	OpenAIURL    string
	AnthropicURL string
}

// New creates a Bridge with the standard 10-second request timeout.
func New() *Bridge {
	return &Bridge{client: &http.Client{Timeout: requestTimeout}}
}

// Complete returns the provider's reply to prompt, or a fixed guidance or
// apology string. It performs no network call when cfg is absent or
// incomplete, and it never returns an error.
func (b *Bridge) Complete(ctx context.Context, cfg *model.AIConfig, prompt string) string {
	if cfg == nil {
		return msgNotConfigured
	}
	if cfg.APIKey == "" || cfg.Provider == model.ProviderNone {
		return msgMissingConfig
	}

	switch cfg.Provider {
	case model.ProviderOpenAI:
		return b.completeOpenAI(ctx, cfg.APIKey, prompt)
	case model.ProviderAnthropic:
		return b.completeAnthropic(ctx, cfg.APIKey, prompt)
	default:
		// The custom provider's HTTP call is an extension point; today it
		// gets the same answer as an unrecognized provider.
		return msgUnsupported
	}
}

func (b *Bridge) completeOpenAI(ctx context.Context, apiKey, prompt string) string {
	body := map[string]any{
		"model": openaiModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	url := b.OpenAIURL
	if url == "" {
		url = openaiURL
	}

	respBody, err := b.post(ctx, url, body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	})
	if err != nil {
		log.Printf("aibridge: openai request failed: %v", err)
		return msgRequestFailed
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		log.Printf("aibridge: unexpected openai response: %v", err)
		return msgRequestFailed
	}
	return result.Choices[0].Message.Content
}

func (b *Bridge) completeAnthropic(ctx context.Context, apiKey, prompt string) string {
	body := map[string]any{
		"prompt":     prompt,
		"model":      anthropicModel,
		"max_tokens": anthropicMaxTokens,
	}

	url := b.AnthropicURL
	if url == "" {
		url = anthropicURL
	}

	respBody, err := b.post(ctx, url, body, func(req *http.Request) {
		req.Header.Set("x-api-key", apiKey)
	})
	if err != nil {
		log.Printf("aibridge: anthropic request failed: %v", err)
		return msgRequestFailed
	}

	var result struct {
		Completion string `json:"completion"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.Completion == "" {
		log.Printf("aibridge: unexpected anthropic response: %v", err)
		return msgRequestFailed
	}
	return result.Completion
}

// post sends a JSON POST and returns the response body, treating any
// non-200 status as an error.
func (b *Bridge) post(ctx context.Context, url string, body any, auth func(*http.Request)) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	auth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, model.Truncate(string(respBody), 200))
	}
	return respBody, nil
}
