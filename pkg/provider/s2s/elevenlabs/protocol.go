package elevenlabs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event types exchanged with the Conversational AI websocket.
const (
	TypeInitiationClientData = "conversation_initiation_client_data"
	TypeInitiationMetadata   = "conversation_initiation_metadata"
	TypePing                 = "ping"
	TypePong                 = "pong"
	TypeAudio                = "audio"
	TypeUserTranscript       = "user_transcript"
	TypeAgentResponse        = "agent_response"
	TypeInterruption         = "interruption"
)

// pcmPrefix precedes the sample rate in audio format strings ("pcm_16000").
const pcmPrefix = "pcm_"

// ── Protocol message types (outgoing) ─────────────────────────────────────────

// InitiationClientData is the first message sent after connecting. It carries
// the conversation overrides and the dynamic variables the agent's prompt
// references.
type InitiationClientData struct {
	Type                       string         `json:"type"`
	ConversationConfigOverride map[string]any `json:"conversation_config_override"`
	DynamicVariables           map[string]any `json:"dynamic_variables"`
}

// NewInitiationClientData builds the session-start message. coachName is
// always sent as the coach_name dynamic variable; extra variables are merged
// in without overriding it. A nil override is sent as an empty object.
func NewInitiationClientData(coachName string, override map[string]any, extra map[string]any) InitiationClientData {
	if override == nil {
		override = map[string]any{}
	}
	vars := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		vars[k] = v
	}
	vars["coach_name"] = coachName
	return InitiationClientData{
		Type:                       TypeInitiationClientData,
		ConversationConfigOverride: override,
		DynamicVariables:           vars,
	}
}

// UserAudioChunk carries one base64 PCM16 chunk of microphone audio.
type UserAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// Pong answers a ping with the same event id.
type Pong struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

// NewPong returns the reply to the ping with eventID.
func NewPong(eventID int64) Pong {
	return Pong{Type: TypePong, EventID: eventID}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// ServerEvent is the union of the inbound events the client consumes. Only
// the nested object matching Type is populated.
type ServerEvent struct {
	Type string `json:"type"`

	// ping
	PingEvent *PingEvent `json:"ping_event,omitempty"`

	// conversation_initiation_metadata
	InitiationMetadata *InitiationMetadataEvent `json:"conversation_initiation_metadata_event,omitempty"`

	// audio
	AudioEvent *AudioEvent `json:"audio_event,omitempty"`

	// user_transcript
	UserTranscription *UserTranscriptionEvent `json:"user_transcription_event,omitempty"`

	// agent_response
	AgentResponse *AgentResponseEvent `json:"agent_response_event,omitempty"`

	// interruption
	Interruption *InterruptionEvent `json:"interruption_event,omitempty"`
}

// PingEvent is the keep-alive probe. PingMs is the server-measured latency,
// if any.
type PingEvent struct {
	EventID int64 `json:"event_id"`
	PingMs  *int  `json:"ping_ms,omitempty"`
}

// InitiationMetadataEvent announces the conversation id and the audio formats
// the agent chose, e.g. "pcm_16000".
type InitiationMetadataEvent struct {
	ConversationID         string `json:"conversation_id,omitempty"`
	AgentOutputAudioFormat string `json:"agent_output_audio_format"`
	UserInputAudioFormat   string `json:"user_input_audio_format"`
}

// AudioEvent carries one base64 chunk of synthesized speech.
type AudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int64  `json:"event_id,omitempty"`
}

// UserTranscriptionEvent carries the agent's transcription of the user.
type UserTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

// AgentResponseEvent carries the text of the agent's reply.
type AgentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

// InterruptionEvent signals the user barged in on the agent.
type InterruptionEvent struct {
	EventID int64 `json:"event_id,omitempty"`
}

// ParseServerEvent decodes one inbound message. It fails on malformed JSON
// and on a missing type; unknown types decode successfully and are left to
// the caller to ignore.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var evt ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode event: %w", err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("elevenlabs: decode event: missing type")
	}
	return &evt, nil
}

// ParsePCMRate extracts the sample rate from a format string such as
// "pcm_24000". Formats that are not PCM (e.g. "ulaw_8000") are rejected.
func ParsePCMRate(format string) (int, error) {
	digits, ok := strings.CutPrefix(format, pcmPrefix)
	if !ok || digits == "" {
		return 0, fmt.Errorf("elevenlabs: unsupported audio format %q", format)
	}
	if strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid sample rate in audio format %q", format)
	}
	rate, err := strconv.Atoi(digits)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid sample rate in audio format %q", format)
	}
	return rate, nil
}
