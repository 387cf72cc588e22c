// Package anthropiccompat implements core.Provider against the
// Anthropic Messages API (/v1/messages), the high-context-remote
// adapter. Its wire protocol differs from the
// OpenAI-compatible family in three ways: authentication uses the
// x-api-key header rather than Bearer, the system message is a
// top-level field rather than a role in the messages array, and its
// SSE event stream uses named event types (message_start,
// content_block_delta, message_stop) instead of a single chunked JSON
// repeated per line.
package anthropiccompat

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

const anthropicVersion = "2023-06-01"

// Config configures one Anthropic-compatible endpoint.
type Config struct {
	Name    string
	BaseURL string // e.g. "https://api.anthropic.com"
	APIKey  string
	Model   string
	Timeout time.Duration // defaults to 60s; high-context requests run longer
}

// Provider adapts the Anthropic Messages API to core.Provider.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a Provider for cfg.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
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

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      usage          `json:"usage"`
}

// splitSystem extracts the system-role message (Anthropic sends it as a
// top-level field) from the ordinary conversation turns.
func splitSystem(messages []core.Message) (system string, rest []anthropicMessage) {
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Text
			continue
		}
		role := string(m.Role)
		if m.Role != core.RoleUser && m.Role != core.RoleAssistant {
			role = string(core.RoleUser)
		}
		rest = append(rest, anthropicMessage{Role: role, Content: m.Text})
	}
	return system, rest
}

func (p *Provider) buildRequest(ctx context.Context, messages []core.Message, params core.Params, stream bool) (*http.Request, error) {
	system, rest := splitSystem(messages)

	maxTokens := params.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := messagesRequest{
		Model:       p.cfg.Model,
		System:      system,
		Messages:    rest,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		Stream:      stream,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
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

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return core.Response{}, core.NewProviderTransient(p.Name(), "failed to decode response", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return core.Response{
		Text:     text.String(),
		Provider: p.Name(),
		Model:    parsed.Model,
		Tokens:   parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		Terminal: terminalReasonFor(parsed.StopReason),
	}, nil
}

// sseEvent mirrors the subset of Anthropic's named SSE events this
// adapter cares about: the text delta inside content_block_delta, and
// message_stop as the terminal signal.
type sseEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// Stream performs a streaming completion.
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

			var evt sseEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}

			switch evt.Type {
			case "content_block_delta":
				if evt.Delta.Text != "" {
					if !emit(ctx, ch, core.StreamToken{Text: evt.Delta.Text}) {
						return
					}
				}
			case "message_stop":
				emit(ctx, ch, core.StreamToken{Final: true})
				return
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

// IsAvailable performs a minimal request to check credential validity;
// Anthropic has no lightweight models-list endpoint on all deployments,
// so this sends a 1-token probe message instead.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := p.buildRequest(ctx, []core.Message{{Role: core.RoleUser, Text: "ping"}}, core.Params{MaxOutputTokens: 1}, false)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}

func terminalReasonFor(stopReason string) core.TerminalReason {
	switch stopReason {
	case "max_tokens":
		return core.ReasonLength
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
