// Package main provides the assistant server implementation.
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/config"
	"github.com/arborcore/assistant-core/internal/app"
	"github.com/arborcore/assistant-core/internal/server"
	"github.com/arborcore/assistant-core/internal/transport"
)

// Server owns the App and the two listeners (main API, metrics) built
// on top of it: construct dependencies in Start(), tear them down in
// Shutdown(), block in WaitForShutdown() until a signal or listener
// error arrives.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	app *app.App

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer constructs a Server. Start must be called before it serves
// traffic.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, configPath: configPath, logger: logger}
}

// Start builds the App (config/telemetry/cache/providers/router/executor)
// and starts both HTTP listeners, non-blocking.
func (s *Server) Start() error {
	a, err := app.New(s.cfg, s.configPath, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = a

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("assistant started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	handler := transport.NewAPIHandler(
		context.Background(),
		s.app,
		s.cfg.Server,
		s.app.Metrics,
		transport.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit},
		s.logger,
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("http server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(transport.NewMetricsHandler(), serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal or listener error
// arrives, then runs Shutdown.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown drains both listeners and releases the App's resources.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.app != nil {
		if err := s.app.Close(ctx); err != nil {
			s.logger.Error("app shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
