// Package ratelimit wraps golang.org/x/time/rate for the collaborator
// workers' outbound HTTP calls, grounded on the teacher's
// infrastructure/ratelimit/ratelimit.go.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls steady-state rate and burst allowance.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig matches what a single CI/VCS/UI collaborator worker needs
// against a typical GitHub-scale API: comfortably under platform secondary
// rate limits without the merge queue itself becoming the bottleneck.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, Burst: 20}
}

// Limiter rate-limits a collaborator worker's outbound calls.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  Config
}

// New builds a Limiter from cfg. A non-positive RequestsPerSecond takes
// DefaultConfig's value; a non-positive Burst becomes twice the rate.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Wait(ctx)
}

// Allow reports whether a call may proceed right now without blocking.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Reset restores the limiter to a fresh bucket at the configured rate,
// useful after a collaborator API signals its limit window rolled over.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
}

// Client wraps an *http.Client so every outbound request waits on the
// limiter first.
type Client struct {
	http    *http.Client
	limiter *Limiter
}

// NewClient builds a rate-limited HTTP client.
func NewClient(client *http.Client, cfg Config) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{http: client, limiter: New(cfg)}
}

// Do waits for a token, then issues req.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
