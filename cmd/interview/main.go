// Command interview runs a live voice interview in the terminal. It fetches
// a signed conversation URL from coachd, streams the microphone to the agent
// and plays the agent's speech on the default output device.
//
// While the interview runs, type "m" and Enter to toggle mute, or "q" to end
// it. Ctrl+C ends it too.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/careerdeck/voiceinterview/internal/config"
	"github.com/careerdeck/voiceinterview/internal/handshake"
	"github.com/careerdeck/voiceinterview/internal/observe"
	"github.com/careerdeck/voiceinterview/internal/session"
	"github.com/careerdeck/voiceinterview/pkg/audio"
	"github.com/careerdeck/voiceinterview/pkg/audio/mic"
	"github.com/careerdeck/voiceinterview/pkg/audio/speaker"
	"github.com/careerdeck/voiceinterview/pkg/provider/s2s/elevenlabs"
)

// version is set at build time.
var version = "dev"

// errQuit ends the command loop when the user asks to stop.
var errQuit = errors.New("interview ended by user")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	envFile := flag.String("env", ".env", "dotenv file; INTERVIEW_CREDENTIAL_URL overrides session.credential_url")
	coach := flag.String("coach", "", "coach name (overrides session.coach_name)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "interview: %v\n", err)
		return 1
	}
	if cfg.Session.CredentialURL == "" {
		fmt.Fprintf(os.Stderr, "interview: no credential URL; set session.credential_url or %s\n", config.EnvCredentialURL)
		return 1
	}
	if *coach != "" {
		cfg.Session.CoachName = *coach
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Tracing only: the credential request carries traceparent to coachd.
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName + "-client",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	// ── Audio devices ─────────────────────────────────────────────────────────
	spk, err := speaker.Open(speaker.Config{})
	if err != nil {
		slog.Error("failed to open speaker", "err", err)
		return 1
	}
	defer spk.Close()

	creds, err := handshake.New(cfg.Session.CredentialURL)
	if err != nil {
		slog.Error("invalid credential URL", "err", err)
		return 1
	}

	sess, err := session.New(session.Options{
		Credentials:  creds,
		Dialer:       elevenlabs.NewDialer(),
		Capture:      &mic.Device{SampleRate: cfg.Session.CaptureSampleRate},
		Scheduler:    audio.NewScheduler(spk, spk),
		Logger:       logger,
		QueueSize:    cfg.Session.OutboundQueue,
		FallbackRate: cfg.Session.FallbackSampleRate,
		FramePool:    audio.NewFramePool(cfg.Session.FrameSize),
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	failed := make(chan *session.Error, 1)
	sess.OnStateChange(func(st session.State) {
		slog.Debug("session state", "state", st)
		if st == session.StateError {
			select {
			case failed <- sess.Err():
			default:
			}
		}
	})
	sess.OnTranscript(func(t session.Transcript) {
		fmt.Printf("%s: %s\n", t.Role, t.Text)
	})

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Begin(ctx, session.Config{
		CoachName: cfg.Session.CoachName,
		Overrides: cfg.Session.Overrides,
	}); err != nil {
		var se *session.Error
		if errors.As(err, &se) {
			fmt.Fprintln(os.Stderr, se.Message)
		}
		slog.Error("interview did not start", "err", err)
		return 1
	}
	fmt.Println("Interview started. Type m + Enter to toggle mute, q + Enter to finish.")

	// Stdin is read outside the group: a blocked Read cannot be cancelled.
	commands := make(chan string)
	go readCommands(os.Stdin, commands)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case se := <-failed:
				fmt.Fprintln(os.Stderr, se.Message)
				return se
			case cmd, ok := <-commands:
				if !ok {
					return errQuit
				}
				switch cmd {
				case "m":
					sess.SetMuted(!sess.Muted())
					fmt.Printf("muted: %v\n", sess.Muted())
				case "q":
					return errQuit
				case "":
				default:
					fmt.Println("commands: m (mute), q (quit)")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.End()
		spk.Flush()
		return nil
	})

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, errQuit):
		fmt.Println("Interview finished.")
		return 0
	default:
		slog.Error("interview failed", "err", err)
		return 1
	}
}

func readCommands(f *os.File, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out <- strings.ToLower(strings.TrimSpace(sc.Text()))
	}
}

// loadConfig reads path if it exists and applies the environment.
func loadConfig(path, envFile string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	}
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger creates a structured logger at the given level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
