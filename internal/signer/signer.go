// Package signer is the trusted intermediary's signed-URL endpoint. It holds
// the provider API key and mints single-use conversation URLs for interview
// clients, which never see the key.
package signer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/careerdeck/voiceinterview/internal/handshake"
	"github.com/careerdeck/voiceinterview/internal/observe"
	"github.com/careerdeck/voiceinterview/internal/resilience"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// Path is the route the handler is registered on.
const Path = "/api/interview/signed-url"

// Error messages returned to clients. They are shown to the end user.
const (
	msgUpstream      = "Failed to get signed URL"
	msgRateLimited   = "Too many interview requests. Please wait a moment and try again."
	msgNotConfigured = "Interview coach is not configured"
)

// URLSigner mints signed conversation URLs for an agent.
// [elevenlabs.Client] implements it.
type URLSigner interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

// URLSignerFunc adapts a plain function to [URLSigner].
type URLSignerFunc func(ctx context.Context, agentID string) (string, error)

// SignedURL implements [URLSigner].
func (f URLSignerFunc) SignedURL(ctx context.Context, agentID string) (string, error) {
	return f(ctx, agentID)
}

// Guarded routes calls to s through b so that an unavailable upstream is
// failed fast instead of being hit by every client.
func Guarded(s URLSigner, b *resilience.Breaker) URLSigner {
	return URLSignerFunc(func(ctx context.Context, agentID string) (string, error) {
		var signed string
		err := b.Do(ctx, func(ctx context.Context) error {
			var err error
			signed, err = s.SignedURL(ctx, agentID)
			return err
		})
		return signed, err
	})
}

// Config configures a [Handler].
type Config struct {
	// AgentID is the conversational agent interviews run against.
	AgentID string

	// RateLimit is the sustained number of signed URLs per second allowed per
	// client address. Zero disables limiting.
	RateLimit float64

	// Burst is the number of requests a client may make at once. Default: 3.
	Burst int

	// TrustForwardedFor keys clients by the first X-Forwarded-For address.
	// Only enable behind a proxy that sets it.
	TrustForwardedFor bool

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Handler serves GET [Path]. It is safe for concurrent use.
type Handler struct {
	signer  URLSigner
	metrics *observe.Metrics

	mu       sync.Mutex
	cfg      Config
	limiters map[string]*clientLimiter
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a Handler minting URLs with s.
func New(s URLSigner, cfg Config) *Handler {
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Handler{
		signer:   s,
		cfg:      cfg,
		metrics:  cfg.Metrics,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

// Register adds the route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET "+Path, h)
}

// ServeHTTP answers {"signedUrl": ...} or {"error": ...} with a non-2xx
// status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)
	agentID := h.AgentID()

	if agentID == "" {
		h.metrics.RecordSignedURLRequest(ctx, "not_configured")
		writeJSON(w, http.StatusServiceUnavailable, handshake.Response{Error: msgNotConfigured})
		return
	}

	client := h.clientKey(r)
	if !h.allow(client) {
		h.metrics.RecordSignedURLRequest(ctx, "rate_limited")
		log.Warn("signed url rate limited", "client", client)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, handshake.Response{Error: msgRateLimited})
		return
	}

	signed, err := h.mint(ctx, agentID)
	if err != nil {
		h.metrics.RecordSignedURLRequest(ctx, "upstream_error")
		log.Error("mint signed url", "client", client, "err", err)
		writeJSON(w, http.StatusInternalServerError, handshake.Response{Error: msgUpstream})
		return
	}

	h.metrics.RecordSignedURLRequest(ctx, "ok")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, handshake.Response{SignedURL: signed})
}

func (h *Handler) mint(ctx context.Context, agentID string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "signer.MintSignedURL")
	defer span.End()
	span.SetAttributes(observe.Attr("agent_id", agentID))

	signed, err := h.signer.SignedURL(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return signed, err
}

// AgentID returns the agent new interviews are signed for.
func (h *Handler) AgentID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg.AgentID
}

// SetAgentID switches the agent for subsequent requests.
func (h *Handler) SetAgentID(id string) {
	h.mu.Lock()
	h.cfg.AgentID = id
	h.mu.Unlock()
}

// SetLimits replaces the rate limiting policy. Known clients start over with
// a full bucket under the new limits.
func (h *Handler) SetLimits(limit float64, burst int, trustForwardedFor bool) {
	if burst <= 0 {
		burst = 3
	}
	h.mu.Lock()
	h.cfg.RateLimit = limit
	h.cfg.Burst = burst
	h.cfg.TrustForwardedFor = trustForwardedFor
	clear(h.limiters)
	h.mu.Unlock()
}

// clientKey identifies the caller for rate limiting.
func (h *Handler) clientKey(r *http.Request) string {
	h.mu.Lock()
	trust := h.cfg.TrustForwardedFor
	h.mu.Unlock()
	if trust {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) allow(client string) bool {
	h.mu.Lock()
	if h.cfg.RateLimit <= 0 {
		h.mu.Unlock()
		return true
	}
	now := h.now()
	cl, ok := h.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.Burst)}
		h.limiters[client] = cl
	}
	cl.lastSeen = now
	h.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than idle and returns how many were
// removed.
func (h *Handler) Sweep(idle time.Duration) int {
	cutoff := h.now().Add(-idle)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for k, cl := range h.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(h.limiters, k)
			n++
		}
	}
	return n
}

// RunJanitor sweeps idle clients every interval until ctx is done.
func (h *Handler) RunJanitor(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := h.Sweep(interval); n > 0 {
				slog.Debug("signer: forgot idle clients", "count", n)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("signer: write response", "err", err)
	}
}
