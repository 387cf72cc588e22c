// Package openaicompat implements core.Provider against any OpenAI-
// compatible chat-completions API (OpenAI itself, and local
// Ollama-style inference servers that expose the same wire shape).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core"
)

// Config configures one OpenAI-compatible endpoint.
type Config struct {
	Name     string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration // defaults to 30s
}

// Provider is the base implementation for every OpenAI-compatible
// adapter (the remote "fast-remote" tier and the local Ollama-style
// tier both use this unmodified).
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a Provider for cfg.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		logger: logger.With(zap.String("provider", cfg.Name)),
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
}

type chatUsage struct {
	TotalTokens int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

func toChatMessages(messages []core.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: string(m.Role), Content: m.Text}
	}
	return out
}

func (p *Provider) buildRequest(ctx context.Context, messages []core.Message, params core.Params, stream bool) (*http.Request, error) {
	model := p.cfg.Model

	body := chatRequest{
		Model:       model,
		Messages:    toChatMessages(messages),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxOutputTokens,
		Stream:      stream,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	return req, nil
}

// Generate performs a non-streaming completion.
func (p *Provider) Generate(ctx context.Context, messages []core.Message, params core.Params) (core.Response, error) {
	req, err := p.buildRequest(ctx, messages, params, false)
	if err != nil {
		return core.Response{}, core.NewProviderInvalid(p.Name(), "failed to build request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return core.Response{}, core.NewProviderTransient(p.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return core.Response{}, mapStatus(p.Name(), resp.StatusCode, readBody(resp.Body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return core.Response{}, core.NewProviderTransient(p.Name(), "failed to decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return core.Response{}, core.NewProviderInvalid(p.Name(), "response contained no choices", nil)
	}

	choice := parsed.Choices[0]
	text := ""
	if choice.Message != nil {
		text = choice.Message.Content
	}

	return core.Response{
		Text:     text,
		Provider: p.Name(),
		Model:    parsed.Model,
		Tokens:   parsed.Usage.TotalTokens,
		Terminal: terminalReasonFor(choice.FinishReason),
	}, nil
}

// Stream performs a streaming completion over SSE.
func (p *Provider) Stream(ctx context.Context, messages []core.Message, params core.Params) (<-chan core.StreamToken, error) {
	req, err := p.buildRequest(ctx, messages, params, true)
	if err != nil {
		return nil, core.NewProviderInvalid(p.Name(), "failed to build request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, core.NewProviderTransient(p.Name(), "request failed", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapStatus(p.Name(), resp.StatusCode, readBody(resp.Body))
	}

	return streamSSE(ctx, resp.Body), nil
}

func streamSSE(ctx context.Context, body io.ReadCloser) <-chan core.StreamToken {
	ch := make(chan core.StreamToken)
	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(ctx, ch, core.StreamToken{Err: err, Final: true})
				}
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				emit(ctx, ch, core.StreamToken{Final: true})
				return
			}

			var parsed chatResponse
			if err := json.Unmarshal([]byte(data), &parsed); err != nil {
				emit(ctx, ch, core.StreamToken{Err: err, Final: true})
				return
			}
			for _, choice := range parsed.Choices {
				if choice.Delta == nil || choice.Delta.Content == "" {
					continue
				}
				if !emit(ctx, ch, core.StreamToken{Text: choice.Delta.Content}) {
					return
				}
			}
		}
	}()
	return ch
}

func emit(ctx context.Context, ch chan<- core.StreamToken, tok core.StreamToken) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- tok:
		return true
	}
}

// IsAvailable performs a lightweight models-list probe.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1/models"), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}

func terminalReasonFor(finishReason string) core.TerminalReason {
	switch finishReason {
	case "length":
		return core.ReasonLength
	case "":
		return core.ReasonComplete
	default:
		return core.ReasonComplete
	}
}

func mapStatus(provider string, status int, msg string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewProviderAuth(provider, fmt.Sprintf("authentication failed: %s", msg), nil)
	case http.StatusTooManyRequests:
		return core.NewProviderRateLimited(provider, fmt.Sprintf("rate limited: %s", msg), nil)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return core.NewProviderInvalid(provider, fmt.Sprintf("invalid request: %s", msg), nil)
	default:
		return core.NewProviderTransient(provider, fmt.Sprintf("upstream error (status %d): %s", status, msg), nil)
	}
}
