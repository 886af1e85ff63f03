package config

// ConfigDiff describes what changed between two configs.
// Only fields the intermediary can apply without a restart are tracked
// individually; anything else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SignerChanged is set when the rate limit, burst or forwarded-for
	// policy changed.
	SignerChanged bool
	NewSigner     SignerConfig

	AgentChanged bool
	NewAgentID   string

	// RestartRequired names changed keys that only take effect on restart.
	RestartRequired []string
}

// Changed reports whether any tracked field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SignerChanged || d.AgentChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Signer != new.Signer {
		d.SignerChanged = true
		d.NewSigner = new.Signer
	}
	if old.ElevenLabs.AgentID != new.ElevenLabs.AgentID {
		d.AgentChanged = true
		d.NewAgentID = new.ElevenLabs.AgentID
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.ElevenLabs.APIKey != new.ElevenLabs.APIKey {
		d.RestartRequired = append(d.RestartRequired, "elevenlabs.api_key")
	}
	if old.ElevenLabs.BaseURL != new.ElevenLabs.BaseURL {
		d.RestartRequired = append(d.RestartRequired, "elevenlabs.base_url")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
