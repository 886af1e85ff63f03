package handshake

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/careerdeck/voiceinterview/internal/resilience"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNew_RejectsBadEndpoints(t *testing.T) {
	t.Parallel()
	for _, endpoint := range []string{"", "/api/interview/signed-url", "ftp://example.com/x", "://bad"} {
		if _, err := New(endpoint); err == nil {
			t.Errorf("New(%q) succeeded, want error", endpoint)
		}
	}
}

func TestSignedURL_Success(t *testing.T) {
	t.Parallel()
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		gotAuth <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"signedUrl":"wss://api.elevenlabs.io/v1/convai/conversation?agent_id=a&conversation_signature=s"}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithHeader("Authorization", "Bearer user-token"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.SignedURL(context.Background())
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if want := "wss://api.elevenlabs.io/v1/convai/conversation?agent_id=a&conversation_signature=s"; got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
	if auth := <-gotAuth; auth != "Bearer user-token" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestSignedURL_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
		wantNoURL  bool
	}{
		{"service error with message", http.StatusInternalServerError, `{"error":"Failed to get signed URL"}`, 500, "Failed to get signed URL", false},
		{"rate limited", http.StatusTooManyRequests, `{"error":"Too many interview requests"}`, 429, "Too many interview requests", false},
		{"html error page", http.StatusBadGateway, `<html>bad gateway</html>`, 502, "", false},
		{"missing url", http.StatusOK, `{}`, 0, "", true},
		{"not a websocket url", http.StatusOK, `{"signedUrl":"https://example.com"}`, 0, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newServer(t, tc.status, tc.body)
			c, err := New(srv.URL)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.SignedURL(context.Background())
			if err == nil {
				t.Fatal("SignedURL succeeded, want error")
			}
			if tc.wantNoURL {
				if !errors.Is(err, ErrNoURL) {
					t.Errorf("err = %v, want ErrNoURL", err)
				}
				return
			}
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.StatusCode != tc.wantStatus || se.UserMessage() != tc.wantMsg {
				t.Errorf("StatusError = %d %q, want %d %q", se.StatusCode, se.UserMessage(), tc.wantStatus, tc.wantMsg)
			}
		})
	}
}

func TestSignedURL_BreakerFailsFast(t *testing.T) {
	t.Parallel()
	srv, hits := newServer(t, http.StatusServiceUnavailable, `{"error":"down"}`)

	c, err := New(srv.URL, WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "credentials",
		MaxFailures: 2,
		Cooldown:    time.Hour,
		IsFailure:   IsUnavailable,
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for range 2 {
		_, _ = c.SignedURL(context.Background())
	}
	_, err = c.SignedURL(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("intermediary hit %d times, want 2", n)
	}
}

func TestSignedURL_ClientErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()
	srv, hits := newServer(t, http.StatusUnauthorized, `{"error":"Please sign in"}`)

	c, err := New(srv.URL, WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "credentials",
		MaxFailures: 1,
		IsFailure:   IsUnavailable,
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 3 {
		_, _ = c.SignedURL(context.Background())
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("intermediary hit %d times, want 3", n)
	}
}

func TestIsUnavailable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{StatusCode: 503}, true},
		{&StatusError{StatusCode: 403}, false},
		{ErrNoURL, false},
		{errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range tests {
		if got := IsUnavailable(tc.err); got != tc.want {
			t.Errorf("IsUnavailable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSignedURL_PropagatesTraceContext(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	traceparent := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent <- r.Header.Get("traceparent")
		_, _ = w.Write([]byte(`{"signedUrl":"wss://agent.example.test/c"}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, parent := tp.Tracer("test").Start(context.Background(), "interview")
	if _, err := c.SignedURL(ctx); err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	parent.End()

	tid := parent.SpanContext().TraceID().String()
	if got := <-traceparent; len(got) < 35 || got[3:35] != tid {
		t.Errorf("traceparent = %q, want trace id %s", got, tid)
	}

	var found bool
	for _, s := range exp.GetSpans() {
		if s.Name == "handshake.SignedURL" {
			found = true
			if s.Parent.TraceID().String() != tid {
				t.Errorf("span parent trace = %s, want %s", s.Parent.TraceID(), tid)
			}
		}
	}
	if !found {
		t.Error("handshake.SignedURL span not recorded")
	}
}
