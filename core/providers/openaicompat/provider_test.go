package openaicompat

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
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			ID:    "cmpl-1",
			Model: "gpt-test",
			Choices: []chatChoice{{
				Index:        0,
				FinishReason: "stop",
				Message:      &chatMessage{Role: "assistant", Content: "hello there"},
			}},
			Usage: chatUsage{TotalTokens: 42},
		})
	}))
	defer srv.Close()

	p := New(Config{Name: "fast-remote", BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-test"}, zap.NewNop())
	resp, err := p.Generate(context.Background(), []core.Message{{Role: core.RoleUser, Text: "hi"}}, core.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "fast-remote", resp.Provider)
	assert.Equal(t, 42, resp.Tokens)
	assert.Equal(t, core.ReasonComplete, resp.Terminal)
}

func TestProvider_GenerateMapsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api key"))
	}))
	defer srv.Close()

	p := New(Config{Name: "fast-remote", BaseURL: srv.URL, APIKey: "bad"}, zap.NewNop())
	_, err := p.Generate(context.Background(), []core.Message{{Role: core.RoleUser, Text: "hi"}}, core.DefaultParams())
	require.Error(t, err)

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, core.KindProviderAuth, coreErr.Kind)
}

func TestProvider_GenerateMapsRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := New(Config{Name: "fast-remote", BaseURL: srv.URL}, zap.NewNop())
	_, err := p.Generate(context.Background(), []core.Message{{Role: core.RoleUser, Text: "hi"}}, core.DefaultParams())
	require.Error(t, err)

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, core.KindProviderRateLimited, coreErr.Kind)
}

func TestProvider_StreamEmitsTokensThenFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []chatResponse{
			{Choices: []chatChoice{{Delta: &chatMessage{Content: "Hel"}}}},
			{Choices: []chatChoice{{Delta: &chatMessage{Content: "lo"}}}},
		}
		for _, c := range chunks {
			b, _ := json.Marshal(c)
			w.Write([]byte("data: " + string(b) + "\n\n"))
			flusher.Flush()
		}
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	p := New(Config{Name: "fast-remote", BaseURL: srv.URL}, zap.NewNop())
	ch, err := p.Stream(context.Background(), []core.Message{{Role: core.RoleUser, Text: "hi"}}, core.DefaultParams())
	require.NoError(t, err)

	var got []core.StreamToken
	for tok := range ch {
		got = append(got, tok)
	}

	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, "lo", got[1].Text)
	assert.True(t, got[len(got)-1].Final)
}

func TestProvider_IsAvailableTrueOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{Name: "fast-remote", BaseURL: srv.URL}, zap.NewNop())
	assert.True(t, p.IsAvailable(context.Background()))
}

func TestProvider_IsAvailableFalseOnError(t *testing.T) {
	p := New(Config{Name: "fast-remote", BaseURL: "http://127.0.0.1:0"}, zap.NewNop())
	assert.False(t, p.IsAvailable(context.Background()))
}
