package session

import (
	"errors"
	"fmt"

	"github.com/careerdeck/voiceinterview/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// ErrEnded is returned by [Session.Begin] when the attempt was ended or
// replaced by another Begin before it went live.
var ErrEnded = errors.New("session: ended before going live")

// ErrorKind classifies session failures.
type ErrorKind int

const (
	// KindCredential means the intermediary was unreachable or returned no
	// usable signed URL.
	KindCredential ErrorKind = iota + 1

	// KindTransport is a connection-level failure: dial rejected, network
	// drop, write failure during setup.
	KindTransport

	// KindAbnormalClosure means the peer closed the connection without the
	// user ending the interview.
	KindAbnormalClosure

	// KindCapture means the microphone was denied or unavailable.
	KindCapture

	// KindProtocolParse is a malformed or unrecognised inbound message. It is
	// never fatal; it only appears in logs and metrics.
	KindProtocolParse
)

// String returns the metric label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindTransport:
		return "transport"
	case KindAbnormalClosure:
		return "abnormal_closure"
	case KindCapture:
		return "capture"
	case KindProtocolParse:
		return "protocol_parse"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	msgCredential = "Could not start the interview. Please try again in a moment."
	msgTransport  = "Lost connection to the interview coach. Please start a new interview."
	msgClosed     = "The interview coach disconnected unexpectedly. Please start a new interview."
	msgCapture    = "Microphone access is required for the interview. Check your microphone permission and device, then try again."
)

// Error is a fatal session failure. Message is the single human-readable
// string to show the user; Err carries the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error

	// CloseCode and CloseReason are set for KindAbnormalClosure when the peer
	// sent a close frame. CloseCode is -1 otherwise.
	CloseCode   websocket.StatusCode
	CloseReason string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// messageProvider is implemented by errors that carry a message meant for the
// user, such as the intermediary's error body.
type messageProvider interface {
	UserMessage() string
}

// newError classifies err as kind and picks the user-facing message.
func newError(kind ErrorKind, err error) *Error {
	e := &Error{Kind: kind, Err: err, CloseCode: -1}
	switch kind {
	case KindCredential:
		e.Message = msgCredential
		var mp messageProvider
		if errors.As(err, &mp) && mp.UserMessage() != "" {
			e.Message = mp.UserMessage()
		}
	case KindAbnormalClosure:
		e.Message = msgClosed
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			e.CloseCode = ce.Code
			e.CloseReason = ce.Reason
		}
	case KindCapture:
		e.Message = msgCapture
	default:
		e.Message = msgTransport
	}
	return e
}

// classifyReadError maps a failed transport read to a fatal kind: a received
// close frame is an abnormal closure, anything else a transport failure.
func classifyReadError(err error) ErrorKind {
	if s2s.CloseStatus(err) != -1 {
		return KindAbnormalClosure
	}
	return KindTransport
}
