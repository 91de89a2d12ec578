// Package main is the entry point for the restmail ingress gateway.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/restmail/restmail-receiver/internal/api"
	"github.com/restmail/restmail-receiver/internal/config"
	"github.com/restmail/restmail-receiver/internal/delivery"
	"github.com/restmail/restmail-receiver/internal/policy"
	"github.com/restmail/restmail-receiver/internal/server"
	"github.com/restmail/restmail-receiver/internal/store"
	"github.com/restmail/restmail-receiver/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (TOML or YAML, optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	spool := store.New(cfg.Storage.BasePath, cfg.Storage.Incoming)

	// API mode is decided exactly once, here. The validator and the
	// delivery session both key off whether a client exists.
	var validator *validate.Validator
	var submitter delivery.Submitter
	if cfg.APIConfigured() {
		client := api.New(api.Credentials{
			BaseURL:    cfg.API.BaseURL,
			ServiceKey: cfg.API.ServiceKey,
			SecretKey:  cfg.API.SecretKey,
		})
		validator = validate.New(client, cfg.LocalDomain)
		submitter = client
		slog.Info("platform API mode enabled", "base_url", cfg.API.BaseURL)
	} else {
		validator = validate.New(nil, cfg.LocalDomain)
		slog.Info("platform API unconfigured, using static domain fallback",
			"local_domain", cfg.LocalDomain,
		)
	}

	readTimeout := cfg.ReadTimeout()

	srv := server.New(
		server.Listener{
			Name: "policy",
			Addr: cfg.PolicyAddr(),
			Handler: func(ctx context.Context, conn net.Conn) {
				policy.NewSession(conn, validator, readTimeout).Handle(ctx)
			},
		},
		server.Listener{
			Name: "delivery",
			Addr: cfg.DeliveryAddr(),
			Handler: func(ctx context.Context, conn net.Conn) {
				delivery.NewSession(conn, spool, submitter, readTimeout).Handle(ctx)
			},
		},
	)

	slog.Info("starting restmail-receiver",
		"policy_addr", cfg.PolicyAddr(),
		"delivery_addr", cfg.DeliveryAddr(),
		"spool_dir", spool.Dir(),
		"api_mode", cfg.APIConfigured(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen)
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("restmail-receiver stopped")
}

// loadConfig loads configuration from the -config flag, the
// RESTMAIL_CONFIG_PATH environment variable, or environment variables
// alone, in that order of preference.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("RESTMAIL_CONFIG_PATH")
	}
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// serveMetrics exposes the prometheus registry until the context ends.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server error", "error", err)
	}
}
