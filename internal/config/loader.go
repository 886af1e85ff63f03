package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by [ApplyEnv].
const (
	EnvAPIKey        = "ELEVENLABS_API_KEY"
	EnvAgentID       = "ELEVENLABS_AGENT_ID"
	EnvCredentialURL = "INTERVIEW_CREDENTIAL_URL"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.ElevenLabs.BaseURL == "" {
		cfg.ElevenLabs.BaseURL = DefaultBaseURL
	}
	if cfg.Signer.Burst == 0 {
		cfg.Signer.Burst = 3
	}
	if cfg.Session.CoachName == "" {
		cfg.Session.CoachName = DefaultCoachName
	}
	if cfg.Session.FrameSize == 0 {
		cfg.Session.FrameSize = DefaultFrameSize
	}
	if cfg.Session.OutboundQueue == 0 {
		cfg.Session.OutboundQueue = DefaultOutboundQueue
	}
	if cfg.Session.FallbackSampleRate == 0 {
		cfg.Session.FallbackSampleRate = DefaultFallbackSampleRate
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Credentials are not required here; each binary checks what it needs.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.ElevenLabs.BaseURL != "" {
		if err := checkURL(cfg.ElevenLabs.BaseURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("elevenlabs.base_url: %w", err))
		}
	}

	if cfg.Signer.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("signer.rate_limit must not be negative, got %g", cfg.Signer.RateLimit))
	}
	if cfg.Signer.Burst < 0 {
		errs = append(errs, fmt.Errorf("signer.burst must not be negative, got %d", cfg.Signer.Burst))
	}

	s := cfg.Session
	if s.CredentialURL != "" {
		if err := checkURL(s.CredentialURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("session.credential_url: %w", err))
		}
	}
	if s.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("session.frame_size must not be negative, got %d", s.FrameSize))
	}
	if s.OutboundQueue < 0 {
		errs = append(errs, fmt.Errorf("session.outbound_queue must not be negative, got %d", s.OutboundQueue))
	}
	if s.FallbackSampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.fallback_sample_rate must not be negative, got %d", s.FallbackSampleRate))
	}
	if s.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.capture_sample_rate must not be negative, got %d", s.CaptureSampleRate))
	}

	return errors.Join(errs...)
}

// ApplyEnv loads envFile into the process environment, if it exists, and
// then overrides cfg with any credentials set in the environment. Variables
// already set in the environment win over the file. An empty envFile skips
// the file.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", envFile, err)
		}
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.ElevenLabs.APIKey = v
	}
	if v := os.Getenv(EnvAgentID); v != "" {
		cfg.ElevenLabs.AgentID = v
	}
	if v := os.Getenv(EnvCredentialURL); v != "" {
		cfg.Session.CredentialURL = v
	}
	return Validate(cfg)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q is not an absolute %v URL", raw, schemes)
}
