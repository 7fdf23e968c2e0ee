// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// wsbridge relays browser WebSocket connections to raw TCP game servers.
//
// Usage:
//
//	wsbridge [port]
//
// The listening port defaults to 8080; everything else is configured
// through WSBRIDGE_-prefixed environment variables (see Config).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/absmach/wsbridge/pkg/allowlist"
	"github.com/absmach/wsbridge/pkg/health"
	"github.com/absmach/wsbridge/pkg/metrics"
	"github.com/absmach/wsbridge/pkg/proxy"
	"github.com/absmach/wsbridge/pkg/serverlist"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix   = "WSBRIDGE_"
	defaultPort = "8080"
)

// Config holds the application configuration, read from the environment
// with the WSBRIDGE_ prefix.
type Config struct {
	LogLevel        string        `env:"LOG_LEVEL"         envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"        envDefault:"text"`
	MasterServerURL string        `env:"MASTER_SERVER_URL" envDefault:"https://servers.openrct2.io"`
	AllowedPorts    string        `env:"ALLOWED_PORTS"     envDefault:"11753-11763"`
	AllowedHosts    string        `env:"ALLOWED_HOSTS"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"   envDefault:"10s"`
	ServerListTTL   time.Duration `env:"SERVER_LIST_TTL"   envDefault:"60s"`
	ShutdownGrace   time.Duration `env:"SHUTDOWN_GRACE"    envDefault:"30s"`
	MetricsPort     int           `env:"METRICS_PORT"      envDefault:"9090"`
	RedisURL        string        `env:"REDIS_URL"`
	RateLimit       int64         `env:"RATE_LIMIT"        envDefault:"0"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		// .env file is optional
	}

	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	port, err := listenPort(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	policy, err := buildPolicy(cfg)
	if err != nil {
		logger.Error("invalid allowlist configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("wsbridge", reg)

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("failed to connect snapshot store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cache := serverlist.New(serverlist.Config{
		UpstreamURL: cfg.MasterServerURL,
		TTL:         cfg.ServerListTTL,
		Store:       store,
		Logger:      logger,
		OnFetch:     m.ObserveFetch,
	})

	server := proxy.New(proxy.Config{
		Port:           port,
		Allowlist:      policy,
		ServerList:     cache,
		ConnectTimeout: cfg.ConnectTimeout,
		DrainGrace:     cfg.ShutdownGrace,
		RateLimit:      cfg.RateLimit,
		Logger:         logger,
		Events:         m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Listen(ctx)
	})

	if cfg.MetricsPort > 0 {
		ops := opsServer(cfg, reg, logger)
		g.Go(func() error {
			return listenOps(ctx, ops, logger)
		})
	}

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	logger.Info("wsbridge started",
		slog.String("port", port),
		slog.String("master_server", cfg.MasterServerURL),
		slog.String("allowed_ports", cfg.AllowedPorts))

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("wsbridge terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("wsbridge stopped")
}

// listenPort reads the positional listening port argument.
func listenPort(args []string) (string, error) {
	if len(args) < 2 {
		return defaultPort, nil
	}
	n, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil || n == 0 {
		return "", fmt.Errorf("invalid listening port %q", args[1])
	}
	return args[1], nil
}

func buildPolicy(cfg Config) (allowlist.Policy, error) {
	ports, err := allowlist.ParsePortSet(cfg.AllowedPorts)
	if err != nil {
		return allowlist.Policy{}, err
	}
	return allowlist.New(ports, allowlist.ParseHostSet(cfg.AllowedHosts)), nil
}

func buildStore(cfg Config, logger *slog.Logger) (serverlist.Store, error) {
	if cfg.RedisURL == "" {
		return serverlist.NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	logger.Info("using redis snapshot store", slog.String("addr", opts.Addr))
	return serverlist.NewRedisStore(client, "", cfg.ServerListTTL), nil
}

// opsServer builds the operational listener: Prometheus metrics plus
// liveness and readiness probes. Not part of the public surface.
func opsServer(cfg Config, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	checker := health.NewChecker(10 * time.Second)
	checker.Register("master_server", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.MasterServerURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func listenOps(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	logger.Info("operational server started", slog.String("address", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
