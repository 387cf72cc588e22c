package transport

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/config"
	"github.com/arborcore/assistant-core/internal/app"
	"github.com/arborcore/assistant-core/internal/metrics"
)

// BuildInfo carries version identity into /version.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// NewAPIHandler builds the main request/stream/parallel API mux, wrapped
// in the full middleware chain: routes registered on a plain
// *http.ServeMux, then Chain-wrapped once.
func NewAPIHandler(ctx context.Context, a *app.App, cfg config.ServerConfig, collector *metrics.Collector, info BuildInfo, logger *zap.Logger) http.Handler {
	h := NewHandlers(a, logger)
	health := NewHealthHandler(logger, info.Version, info.BuildTime, info.GitCommit)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion)

	mux.HandleFunc("POST /generate", h.HandleGenerate)
	mux.HandleFunc("POST /stream", h.HandleStream)
	mux.HandleFunc("POST /parallel", h.HandleParallel)
	mux.HandleFunc("POST /invalidate", h.HandleInvalidate)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("POST /reset_provider/{name}", h.HandleResetProvider)

	if hotReload := a.HotReload(); hotReload != nil {
		config.NewConfigAPIHandler(hotReload).RegisterRoutes(mux)
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

	middlewares := []Middleware{
		Recovery(logger),
		RequestID(),
		RequestLogger(logger),
		SecurityHeaders(),
		CORS(cfg.CORSAllowedOrigins),
	}
	if collector != nil {
		middlewares = append(middlewares, MetricsMiddleware(collector))
	}
	middlewares = append(middlewares, OTelTracing())
	if cfg.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	if len(cfg.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(cfg.APIKeys, skipAuthPaths, false))
	}

	return Chain(mux, middlewares...)
}

// NewMetricsHandler builds the /metrics mux served on the separate
// metrics port; the scrape endpoint is never behind API-key auth or
// rate limiting.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
