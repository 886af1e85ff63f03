// Command coachd is the trusted intermediary for interview clients. It holds
// the ElevenLabs API key and serves single-use signed conversation URLs,
// alongside health probes and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/careerdeck/voiceinterview/internal/config"
	"github.com/careerdeck/voiceinterview/internal/health"
	"github.com/careerdeck/voiceinterview/internal/observe"
	"github.com/careerdeck/voiceinterview/internal/resilience"
	"github.com/careerdeck/voiceinterview/internal/signer"
	"github.com/careerdeck/voiceinterview/pkg/provider/s2s/elevenlabs"
)

// version is set at build time.
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	janitorInterval = time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file with ELEVENLABS_API_KEY and ELEVENLABS_AGENT_ID")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watcher, err := loadConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coachd: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("coachd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"hot_reload", watcher != nil,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := observe.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Registry:       reg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Signed URL endpoint ───────────────────────────────────────────────────
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:      "elevenlabs",
		IsFailure: elevenlabs.IsUnavailable,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from, "to", to)
		},
	})
	handler := signer.New(signer.Guarded(newUpstream(cfg.ElevenLabs), breaker), signer.Config{
		AgentID:           cfg.ElevenLabs.AgentID,
		RateLimit:         cfg.Signer.RateLimit,
		Burst:             cfg.Signer.Burst,
		TrustForwardedFor: cfg.Signer.TrustForwardedFor,
		Metrics:           metrics,
	})

	apiKey := cfg.ElevenLabs.APIKey
	probes := health.New(
		health.Configured("api_key", func() string { return apiKey }),
		health.Configured("agent_id", handler.AgentID),
		health.Breaker("upstream", breaker),
	)

	mux := http.NewServeMux()
	handler.Register(mux)
	probes.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(reg))

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr, "path", signer.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return handler.RunJanitor(gctx, janitorInterval)
	})
	if watcher != nil {
		watcher.OnChange(func(old, new *config.Config) {
			applyReload(config.Diff(old, new), &level, handler)
		})
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path and the environment. A missing config file is not an
// error: the defaults plus the environment are enough to serve, just without
// hot reload.
func loadConfig(path, envFile string) (*config.Config, *config.Watcher, error) {
	w, err := config.NewWatcher(path, nil, config.WithEnv(envFile))
	if err == nil {
		return w.Current(), w, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		return nil, nil, err
	}
	if err := config.ApplyEnv(cfg, envFile); err != nil {
		return nil, nil, err
	}
	return cfg, nil, nil
}

// newUpstream returns the ElevenLabs client, or a signer that always fails
// when no API key is configured so that /readyz reports the problem instead
// of the process refusing to start.
func newUpstream(cfg config.ElevenLabsConfig) signer.URLSigner {
	client, err := elevenlabs.NewClient(cfg.APIKey, elevenlabs.WithBaseURL(cfg.BaseURL))
	if err != nil {
		slog.Warn("no ElevenLabs API key configured; signed URL requests will fail", "env", config.EnvAPIKey)
		return signer.URLSignerFunc(func(context.Context, string) (string, error) {
			return "", err
		})
	}
	return client
}

// applyReload applies the hot-reloadable parts of a config change.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, h *signer.Handler) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SignerChanged {
		h.SetLimits(d.NewSigner.RateLimit, d.NewSigner.Burst, d.NewSigner.TrustForwardedFor)
		slog.Info("signer limits changed", "rate_limit", d.NewSigner.RateLimit, "burst", d.NewSigner.Burst)
	}
	if d.AgentChanged {
		h.SetAgentID(d.NewAgentID)
		slog.Info("agent changed", "agent_id", d.NewAgentID)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}
}

// slogLevel maps a config log level to a slog level.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
