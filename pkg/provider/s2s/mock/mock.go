// Package mock provides test doubles for the s2s package interfaces.
//
// Use Dialer to verify Dial calls and hand out controlled transports.
// Use Transport to feed inbound messages, simulate remote closure and inspect
// what the session wrote.
//
// Example:
//
//	tr := mock.NewTransport()
//	d := &mock.Dialer{Transport: tr}
//	// ... start a session with d ...
//	tr.DeliverJSON(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 1}})
//	msg, ok := tr.NextWrite(time.Second)
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/careerdeck/voiceinterview/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// ErrClosed is returned by Transport.Read and Transport.Write after a local
// Close.
var ErrClosed = errors.New("mock: transport closed")

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// URL is the url passed to Dial.
	URL string
}

// Dialer is a mock implementation of s2s.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Transport is returned by Dial. If nil, Dial returns a fresh Transport
	// from NewTransport.
	Transport *Transport

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial records the call and returns Transport, DialErr.
func (d *Dialer) Dial(ctx context.Context, url string) (s2s.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, URL: url})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Transport == nil {
		return NewTransport(), nil
	}
	return d.Transport, nil
}

// Calls returns a copy of the recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.DialCalls))
	copy(out, d.DialCalls)
	return out
}

// CloseCall records a single invocation of Transport.Close.
type CloseCall struct {
	Code   websocket.StatusCode
	Reason string
}

// Transport is a mock implementation of s2s.Transport backed by channels.
type Transport struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// Writes records every successfully written message in order.
	Writes [][]byte

	// CloseCalls records every call to Close in order.
	CloseCalls []CloseCall

	inbound   chan []byte
	written   chan []byte
	remote    chan struct{}
	remoteErr error
	closed    chan struct{}

	remoteOnce sync.Once
	closeOnce  sync.Once
}

// NewTransport returns an open Transport.
func NewTransport() *Transport {
	return &Transport{
		inbound: make(chan []byte, 64),
		written: make(chan []byte, 1024),
		remote:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Deliver queues data to be returned by the next Read.
func (t *Transport) Deliver(data []byte) {
	t.inbound <- data
}

// DeliverJSON marshals v and queues it for Read.
func (t *Transport) DeliverJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic("mock: marshal inbound message: " + err.Error())
	}
	t.Deliver(data)
}

// RemoteClose makes pending and future Reads fail as if the peer closed the
// connection with code and reason. Messages already queued are still read
// first.
func (t *Transport) RemoteClose(code websocket.StatusCode, reason string) {
	t.Fail(s2s.CloseError(code, reason))
}

// Fail makes pending and future Reads return err once the inbound queue is
// drained.
func (t *Transport) Fail(err error) {
	t.remoteOnce.Do(func() {
		t.mu.Lock()
		t.remoteErr = err
		t.mu.Unlock()
		close(t.remote)
	})
}

// Write implements s2s.Transport.
func (t *Transport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	if t.WriteErr != nil {
		return t.WriteErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.Writes = append(t.Writes, cp)
	select {
	case t.written <- cp:
	default:
	}
	return nil
}

// Read implements s2s.Transport.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	default:
	}
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.remote:
		t.mu.Lock()
		defer t.mu.Unlock()
		return nil, t.remoteErr
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements s2s.Transport. Only the first call closes; every call is
// recorded.
func (t *Transport) Close(code websocket.StatusCode, reason string) error {
	t.mu.Lock()
	t.CloseCalls = append(t.CloseCalls, CloseCall{Code: code, Reason: reason})
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// NextWrite waits up to timeout for the next written message.
func (t *Transport) NextWrite(timeout time.Duration) ([]byte, bool) {
	select {
	case data := <-t.written:
		return data, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Written returns a copy of all recorded writes.
func (t *Transport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.Writes))
	copy(out, t.Writes)
	return out
}

// Closes returns a copy of the recorded Close calls.
func (t *Transport) Closes() []CloseCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CloseCall, len(t.CloseCalls))
	copy(out, t.CloseCalls)
	return out
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Ensure the mocks implement the s2s interfaces at compile time.
var (
	_ s2s.Dialer    = (*Dialer)(nil)
	_ s2s.Transport = (*Transport)(nil)
)
