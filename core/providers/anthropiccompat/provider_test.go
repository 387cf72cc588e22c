package anthropiccompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core"
)

func TestProvider_GenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be concise", req.System)
		assert.Len(t, req.Messages, 1)

		json.NewEncoder(w).Encode(messagesResponse{
			ID:         "msg-1",
			Model:      "claude-test",
			StopReason: "end_turn",
			Content:    []contentBlock{{Type: "text", Text: "hi there"}},
			Usage:      usage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	p := New(Config{Name: "high-context-remote", BaseURL: srv.URL, APIKey: "test-key", Model: "claude-test"}, zap.NewNop())
	resp, err := p.Generate(context.Background(), []core.Message{
		{Role: core.RoleSystem, Text: "be concise"},
		{Role: core.RoleUser, Text: "hi"},
	}, core.DefaultParams())

	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	assert.Equal(t, 15, resp.Tokens)
	assert.Equal(t, core.ReasonComplete, resp.Terminal)
}

func TestProvider_GenerateMapsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New(Config{Name: "high-context-remote", BaseURL: srv.URL}, zap.NewNop())
	_, err := p.Generate(context.Background(), []core.Message{{Role: core.RoleUser, Text: "hi"}}, core.DefaultParams())
	require.Error(t, err)

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, core.KindProviderAuth, coreErr.Kind)
}

func TestProvider_StreamEmitsDeltaThenStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		write := func(evt map[string]any) {
			b, _ := json.Marshal(evt)
			w.Write([]byte("data: " + string(b) + "\n\n"))
			flusher.Flush()
		}
		write(map[string]any{"type": "message_start"})
		write(map[string]any{"type": "content_block_delta", "delta": map[string]string{"text": "Hel"}})
		write(map[string]any{"type": "content_block_delta", "delta": map[string]string{"text": "lo"}})
		write(map[string]any{"type": "message_stop"})
	}))
	defer srv.Close()

	p := New(Config{Name: "high-context-remote", BaseURL: srv.URL}, zap.NewNop())
	ch, err := p.Stream(context.Background(), []core.Message{{Role: core.RoleUser, Text: "hi"}}, core.DefaultParams())
	require.NoError(t, err)

	var got []core.StreamToken
	for tok := range ch {
		got = append(got, tok)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, "lo", got[1].Text)
	assert.True(t, got[2].Final)
}

func TestSplitSystem_ExtractsSystemMessage(t *testing.T) {
	system, rest := splitSystem([]core.Message{
		{Role: core.RoleSystem, Text: "be terse"},
		{Role: core.RoleUser, Text: "hello"},
		{Role: core.RoleAssistant, Text: "hi"},
	})
	assert.Equal(t, "be terse", system)
	require.Len(t, rest, 2)
	assert.Equal(t, "user", rest[0].Role)
	assert.Equal(t, "assistant", rest[1].Role)
}
