// Package main implements scriptd, the scripting engine's HTTP admin
// surface: a single /run endpoint for manually exercising compiled scripts
// against an in-memory demo store, plus /health and /metrics. Narrowed down
// from the teacher's cmd/main.go reverse-proxy gateway entrypoint to a
// script-execution admin binary.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"luacore/internal/admin"
	"luacore/internal/config"
	"luacore/internal/demo"
	"luacore/internal/metrics"
	"luacore/pkg/scripting"
)

const (
	Version                = "0.1.0"
	DefaultShutdownTimeout = 10 * time.Second
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	loadDotEnv()
}

// loadDotEnv optionally loads KEY=VALUE pairs from a .env file, following
// the teacher's own minimal parser rather than pulling in a dotenv library
// for four lines of scanning.
func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq > 0 {
			k := strings.TrimSpace(line[:eq])
			v := strings.TrimSpace(line[eq+1:])
			if _, exists := os.LookupEnv(k); !exists {
				os.Setenv(k, v)
			}
		}
	}
	if scanner.Err() == nil {
		slog.Info("env_file_loaded", "file", ".env", "component", "startup")
	}
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err, "path", *cfgPath)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	scriptMetrics := metrics.New(reg)

	runner := scripting.NewRunner(cfg.Pool.MaxHeaps, scripting.Limits{
		MaxInstructions: cfg.Limits.MaxInstructions,
		MaxMemoryBytes:  cfg.Limits.MaxMemoryBytes,
	}, scriptMetrics)
	defer runner.Close()

	store := demo.New()
	srv := admin.New(cfg, runner, store)

	// h2c lets the admin endpoint accept HTTP/2 requests over plaintext,
	// convenient for local curl/grpcurl-style testing without a TLS
	// terminator in front of it.
	h2s := &http2.Server{}
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(srv.Handler(), h2s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server_starting", "version", Version, "address", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server_shutdown_graceful")
}
