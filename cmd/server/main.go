package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/volcengine/veadk-go/apps"
	"github.com/volcengine/veadk-go/apps/a2a_app"
	"google.golang.org/adk/agent"

	"github.com/zhengjr9/chat-relay/internal/a2a"
	"github.com/zhengjr9/chat-relay/internal/config"
	"github.com/zhengjr9/chat-relay/internal/metrics"
	"github.com/zhengjr9/chat-relay/internal/proxy"
	"github.com/zhengjr9/chat-relay/internal/workersai"
)

func main() {
	cfg, err := config.Load()
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("starting chat-relay",
		"listen", cfg.ListenAddr,
		"model", cfg.Model,
		"gateway", cfg.GatewayID,
		"metrics_addr", cfg.MetricsAddr,
		"a2a_enabled", cfg.A2AEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := workersai.NewClient(workersai.Options{
		AccountID:      cfg.AccountID,
		APIToken:       cfg.APIToken,
		BaseURL:        cfg.APIBaseURL,
		GatewayBaseURL: cfg.GatewayBaseURL,
		ProxyURL:       cfg.UpstreamProxyURL,
	})
	if err != nil {
		slog.Error("failed to create Workers AI client", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector(metrics.DefaultNamespace, nil)

	// Always start the chat server.
	srv, err := proxy.New(cfg, backend, collector, logger)
	if err != nil {
		slog.Error("failed to create chat server", "error", err)
		os.Exit(1)
	}
	proxyErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			proxyErr <- err
		}
	}()

	// Metrics live on their own listener so that every path of the chat
	// listener stays with the router.
	var metricsSrv *http.Server
	metricsErr := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
		}()
	}

	// Optionally start the A2A server.
	a2aErr := make(chan error, 1)
	if cfg.A2AEnabled {
		chatAgent, err := a2a.New(a2a.AgentConfig{
			Name:        cfg.AgentName,
			Description: cfg.AgentDesc,
			Backend:     backend,
			Model:       cfg.Model,
			Persona:     cfg.Persona,
			RunOptions:  cfg.RunOptions(),
		})
		if err != nil {
			slog.Error("failed to create A2A agent", "error", err)
			os.Exit(1)
		}

		slog.Info("starting A2A server", "port", cfg.A2APort, "agent_name", cfg.AgentName)

		inner := a2a_app.NewAgentkitA2AServerApp(
			apps.DefaultApiConfig().SetPort(cfg.A2APort),
		)
		wrapped := &observedApp{BasicApp: inner, logger: logger}

		go func() {
			if err := wrapped.Run(ctx, &apps.RunConfig{
				AgentLoader: agent.NewSingleLoader(chatAgent),
			}); err != nil {
				a2aErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		// In-flight streams are bounded by the request timeout.
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("chat server shutdown error", "error", err)
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	case err := <-proxyErr:
		slog.Error("chat server error", "error", err)
		os.Exit(1)
	case err := <-metricsErr:
		slog.Error("metrics server error", "error", err)
		os.Exit(1)
	case err := <-a2aErr:
		slog.Error("A2A server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// observedApp wraps a BasicApp and installs the chat server's request id and
// access log middleware on the Gorilla mux router of the A2A app, so both
// listeners log the same way.
type observedApp struct {
	apps.BasicApp
	logger *slog.Logger
}

// Run hands w, not the embedded app, to apps.Run so that the SetupRouters
// override below is the one invoked.
func (w *observedApp) Run(ctx context.Context, config *apps.RunConfig) error {
	return apps.Run(ctx, config, w)
}

func (w *observedApp) SetupRouters(router *mux.Router, config *apps.RunConfig) error {
	if err := w.BasicApp.SetupRouters(router, config); err != nil {
		return err
	}
	router.Use(proxy.RequestIDMiddleware, mux.MiddlewareFunc(proxy.LoggingMiddleware(w.logger)))
	return nil
}
