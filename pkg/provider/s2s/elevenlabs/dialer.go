// Package elevenlabs implements the ElevenLabs Conversational AI wire protocol
// on top of the s2s transport abstraction.
//
// The client half ([Dialer] and the protocol message types) connects to a
// signed conversation URL and exchanges JSON events: the session-start
// message, base64 PCM16 microphone chunks, ping/pong keep-alives, the format
// negotiation event and streamed agent audio. The server half ([Client])
// mints those signed URLs using the account's private API key and is only
// meant to run on the trusted intermediary.
package elevenlabs

import (
	"context"
	"fmt"
	"sync"

	"github.com/careerdeck/voiceinterview/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// Compile-time assertions that Dialer and conn satisfy the s2s interfaces.
var _ s2s.Dialer = (*Dialer)(nil)
var _ s2s.Transport = (*conn)(nil)

// defaultReadLimit bounds a single inbound message. Agent audio chunks are
// base64 PCM and routinely exceed the websocket library's 32 KiB default.
const defaultReadLimit = 4 << 20

// ── Options ────────────────────────────────────────────────────────────────────

// DialerOption is a functional option for configuring a Dialer.
type DialerOption func(*Dialer)

// WithReadLimit overrides the maximum size of one inbound message in bytes.
func WithReadLimit(n int64) DialerOption {
	return func(d *Dialer) {
		if n > 0 {
			d.readLimit = n
		}
	}
}

// WithDialOptions passes extra options to [websocket.Dial], e.g. a custom
// HTTP client in tests.
func WithDialOptions(opts *websocket.DialOptions) DialerOption {
	return func(d *Dialer) { d.dialOpts = opts }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens websocket transports to signed conversation URLs.
type Dialer struct {
	readLimit int64
	dialOpts  *websocket.DialOptions
}

// NewDialer returns a Dialer with the given options applied.
func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{readLimit: defaultReadLimit}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [s2s.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (s2s.Transport, error) {
	c, _, err := websocket.Dial(ctx, url, d.dialOpts)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	c.SetReadLimit(d.readLimit)
	return &conn{c: c}, nil
}

// conn adapts a websocket connection to [s2s.Transport].
type conn struct {
	c         *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Write sends data as a single text frame.
func (c *conn) Write(ctx context.Context, data []byte) error {
	return c.c.Write(ctx, websocket.MessageText, data)
}

// Read returns the payload of the next data frame.
func (c *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.c.Read(ctx)
	return data, err
}

// Close performs the closing handshake once; later calls return the first
// result.
func (c *conn) Close(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.c.Close(code, reason)
	})
	return c.closeErr
}
