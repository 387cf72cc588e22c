package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/config"
	"github.com/arborcore/assistant-core/core"
	"github.com/arborcore/assistant-core/core/executor"
)

// fakeChatServer mimics an OpenAI-compatible /v1/chat/completions
// endpoint just enough to exercise the full Generate() path.
func fakeChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "test-1",
			"model": "test-model",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": reply},
				},
			},
			"usage": map[string]int{"total_tokens": 12},
		})
	}))
}

func testConfig(t *testing.T, providerURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.L2Path = filepath.Join(t.TempDir(), "cache.db")
	if providerURL != "" {
		cfg.Providers = []config.ProviderConfig{
			{Name: "fast-remote", Kind: "openai-compat", BaseURL: providerURL, Model: "test-model"},
		}
	}
	return cfg
}

func newTestApp(t *testing.T, providerURL string) *App {
	t.Helper()
	a, err := New(testConfig(t, providerURL), "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func TestNew_WiresEveryComponent(t *testing.T) {
	a := newTestApp(t, "")
	assert.NotNil(t, a.cache)
	assert.NotNil(t, a.health)
	assert.NotNil(t, a.ledger)
	assert.NotNil(t, a.router)
	assert.NotNil(t, a.executor)
	assert.NotNil(t, a.monitor)
	assert.NotNil(t, a.Metrics)
	assert.NotNil(t, a.Telemetry)
}

func TestNew_UnknownProviderKind(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Providers = []config.ProviderConfig{{Name: "bogus", Kind: "not-a-kind"}}

	_, err := New(cfg, "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestApp_Generate_RoundTrip(t *testing.T) {
	srv := fakeChatServer(t, "hello from the fake provider")
	defer srv.Close()

	a := newTestApp(t, srv.URL)

	req := core.Request{
		Messages: []core.Message{{Role: core.RoleUser, Text: "hi there"}},
		Params:   core.DefaultParams(),
	}

	resp, err := a.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello from the fake provider", resp.Text)
	assert.Equal(t, "fast-remote", resp.Provider)
}

func TestApp_Status_ReportsConfiguredProviders(t *testing.T) {
	srv := fakeChatServer(t, "ok")
	defer srv.Close()

	a := newTestApp(t, srv.URL)

	status := a.Status()
	require.Contains(t, status.Providers, "fast-remote")
	assert.True(t, status.Providers["fast-remote"].Available)
	assert.GreaterOrEqual(t, status.Cache.Misses, int64(0))
}

func TestApp_Invalidate_ByFingerprint(t *testing.T) {
	a := newTestApp(t, "")
	count, err := a.Invalidate(context.Background(), "some-fingerprint-key", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestApp_Invalidate_ByCategory(t *testing.T) {
	a := newTestApp(t, "")
	count, err := a.Invalidate(context.Background(), "", core.CategoryStatic)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, int64(0))
}

func TestApp_ResetProvider_UnknownReturnsFalse(t *testing.T) {
	a := newTestApp(t, "")
	assert.False(t, a.ResetProvider("never-configured"))
}

func TestApp_Parallel_RunsTasks(t *testing.T) {
	a := newTestApp(t, "")

	tasks := []executor.Task{
		func(ctx context.Context) (core.Response, error) {
			return core.Response{Text: "one"}, nil
		},
		func(ctx context.Context) (core.Response, error) {
			return core.Response{Text: "two"}, nil
		},
	}

	results := a.Parallel(context.Background(), tasks, 5*time.Second)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}
