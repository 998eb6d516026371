// Package remote implements the typed client for the remote LoRA Manager
// HTTP API. It owns the shared pooled HTTP session, the 60 second listing
// caches for LoRAs and checkpoints, and the metadata derivations built on
// them (path resolution, trigger words, hashes, server-side selection).
// Every public operation degrades to a neutral result instead of
// returning an error: a dead remote must never take workflows down.
package remote

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Session wraps one pooled HTTP client shared by everything that talks
// to the remote instance. The client is created on first use and created
// again after Close, so a shutdown-then-reuse never trips on a dead
// client. Close is safe to call more than once.
type Session struct {
	mu      sync.Mutex
	client  *http.Client
	timeout time.Duration
}

// NewSession returns a Session whose client enforces timeout as the
// total budget per exchange, body transfer included.
func NewSession(timeout time.Duration) *Session {
	return &Session{timeout: timeout}
}

// HTTPClient returns the pooled client, creating it lazily.
func (s *Session) HTTPClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = newPooledClient(s.timeout)
	}
	return s.client
}

// Timeout returns the per-exchange budget the session was built with.
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// Close releases the pooled connections. The next HTTPClient call
// creates a fresh client.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return
	}
	s.client.CloseIdleConnections()
	s.client = nil
}

func newPooledClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
