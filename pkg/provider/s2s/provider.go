// Package s2s defines the transport abstraction for Speech-to-Speech (S2S)
// conversational agents.
//
// An S2S agent accepts streamed microphone audio and answers with streamed
// synthesized speech over one long-lived, bidirectional connection carrying
// JSON-framed control and audio messages. The interview session speaks the
// protocol; this package only moves the frames.
//
// The central abstraction is [Transport]: a single open connection obtained
// from a [Dialer]. Keeping it an interface lets the session be tested without
// a live provider connection (see s2s/mock) and keeps the session decoupled
// from the websocket implementation (see s2s/elevenlabs).
package s2s

import (
	"context"

	"github.com/coder/websocket"
)

// Close codes used by the session when tearing down a transport. They are the
// RFC 6455 codes exposed by [websocket].
const (
	// CloseNormal is sent when the user ends the interview.
	CloseNormal = websocket.StatusNormalClosure

	// CloseGoingAway is sent when the session fails locally (for example the
	// microphone could not be acquired) after the transport was opened.
	CloseGoingAway = websocket.StatusGoingAway
)

// Transport is one open, bidirectional, message-framed connection to an S2S
// agent.
//
// Write and Read may be called concurrently with each other, but callers must
// serialise concurrent Writes if they depend on message ordering. Close is
// safe to call more than once and from any goroutine; it unblocks pending
// Reads.
type Transport interface {
	// Write sends one text message.
	Write(ctx context.Context, data []byte) error

	// Read blocks until the next message arrives, ctx is cancelled or the
	// connection closes. A remote close is reported as an error for which
	// [CloseStatus] returns the peer's close code.
	Read(ctx context.Context) ([]byte, error)

	// Close closes the connection with the given status code and reason.
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens transports to signed agent URLs.
type Dialer interface {
	// Dial connects to url. ctx bounds the handshake only; the returned
	// Transport stays open until Close is called or the peer disconnects.
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a plain function to [Dialer].
type DialerFunc func(ctx context.Context, url string) (Transport, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}

// CloseStatus returns the close code carried by a Read error, or -1 if err
// does not describe a close frame received from the peer.
func CloseStatus(err error) websocket.StatusCode {
	return websocket.CloseStatus(err)
}

// CloseError builds the error a Transport returns from Read once the peer has
// closed with code and reason. Mock transports use it so that [CloseStatus]
// behaves the same as with a real websocket.
func CloseError(code websocket.StatusCode, reason string) error {
	return websocket.CloseError{Code: code, Reason: reason}
}
