// Package config provides the configuration schema and loader for the
// interview voice client and its signing intermediary.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultBaseURL            = "https://api.elevenlabs.io"
	DefaultCoachName          = "Coach"
	DefaultFrameSize          = 4096
	DefaultOutboundQueue      = 8
	DefaultFallbackSampleRate = 16000
	DefaultServiceName        = "voiceinterview"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Signer     SignerConfig     `yaml:"signer"`
	Session    SessionConfig    `yaml:"session"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the intermediary listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ElevenLabsConfig holds the agent platform credentials. Only the
// intermediary needs them; the interview client never sees the API key.
type ElevenLabsConfig struct {
	// APIKey is the private xi-api-key. Prefer ELEVENLABS_API_KEY.
	APIKey string `yaml:"api_key"`

	// AgentID selects the conversational agent interviews run against.
	AgentID string `yaml:"agent_id"`

	// BaseURL overrides the REST endpoint. Leave empty for the public API.
	BaseURL string `yaml:"base_url"`
}

// SignerConfig configures the signed-URL endpoint.
type SignerConfig struct {
	// RateLimit is the sustained signed URLs per second allowed per client.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the number of requests a client may make at once.
	Burst int `yaml:"burst"`

	// TrustForwardedFor keys clients by X-Forwarded-For. Only enable behind
	// a proxy that sets it.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// SessionConfig configures the interview client.
type SessionConfig struct {
	// CredentialURL is the intermediary's signed-URL endpoint.
	CredentialURL string `yaml:"credential_url"`

	// CoachName is sent to the agent as the coach_name dynamic variable.
	CoachName string `yaml:"coach_name"`

	// FrameSize is the number of capture samples per outbound frame.
	FrameSize int `yaml:"frame_size"`

	// OutboundQueue bounds the frames waiting to be sent.
	OutboundQueue int `yaml:"outbound_queue"`

	// FallbackSampleRate is used for agent audio until the session's format
	// has been negotiated.
	FallbackSampleRate int `yaml:"fallback_sample_rate"`

	// CaptureSampleRate requests a microphone rate. Zero uses the device's
	// native rate.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// Overrides is sent verbatim as conversation_config_override.
	Overrides map[string]any `yaml:"overrides"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	// ServiceName is reported as service.name.
	ServiceName string `yaml:"service_name"`
}
