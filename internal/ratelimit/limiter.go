// Package ratelimit implements per-client sliding-window admission control
// for the request-side HTTP surface.
package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// Config holds one client class's admission tunables.
type Config struct {
	WindowMs               int64
	MaxRequests            int
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool
}

// DefaultConfig returns a permissive default: 100 requests per minute.
func DefaultConfig() Config {
	return Config{WindowMs: 60_000, MaxRequests: 100}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed         bool
	RemainingPoints int
	MsBeforeNext    int64
	TotalHits       int64
}

// clientRecord tracks one client's sliding-window state using the
// weighted two-bucket technique: the previous window's count is blended in
// proportion to how much of it still overlaps the sliding window, avoiding
// both the burst-at-boundary problem of fixed windows and the memory cost of
// a full request log.
type clientRecord struct {
	currentCount  int64
	currentStart  time.Time
	previousCount int64
	lastAccess    time.Time
}

// Limiter is a per-client sliding-window rate limiter. Safe for concurrent
// use.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clients map[string]*clientRecord

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Limiter and starts its idle-client sweep goroutine.
func New(cfg Config) *Limiter {
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = 60_000
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1
	}

	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientRecord),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweep goroutine. Idempotent.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		<-l.doneCh
	})
}

func (l *Limiter) window() time.Duration {
	return time.Duration(l.cfg.WindowMs) * time.Millisecond
}

// Admit records one admission attempt for clientID and reports whether it
// should proceed.
func (l *Limiter) Admit(clientID string) Result {
	now := time.Now()
	window := l.window()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.clients[clientID]
	if !ok {
		rec = &clientRecord{currentStart: now}
		l.clients[clientID] = rec
	}
	rec.lastAccess = now

	elapsed := now.Sub(rec.currentStart)
	if elapsed >= window {
		windowsElapsed := int64(elapsed / window)
		if windowsElapsed == 1 {
			rec.previousCount = rec.currentCount
		} else {
			rec.previousCount = 0
		}
		rec.currentCount = 0
		rec.currentStart = rec.currentStart.Add(time.Duration(windowsElapsed) * window)
		elapsed = now.Sub(rec.currentStart)
	}

	weight := 1.0 - float64(elapsed)/float64(window)
	if weight < 0 {
		weight = 0
	}
	estimated := float64(rec.previousCount)*weight + float64(rec.currentCount)

	totalHits := rec.currentCount + rec.previousCount
	if estimated >= float64(l.cfg.MaxRequests) {
		msBeforeNext := (window - elapsed).Milliseconds()
		return Result{
			Allowed:         false,
			RemainingPoints: 0,
			MsBeforeNext:    msBeforeNext,
			TotalHits:       totalHits,
		}
	}

	rec.currentCount++
	totalHits++
	remaining := l.cfg.MaxRequests - int(estimated) - 1
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:         true,
		RemainingPoints: remaining,
		MsBeforeNext:    (window - elapsed).Milliseconds(),
		TotalHits:       totalHits,
	}
}

// sweepLoop evicts client records idle longer than windowMs·2.
func (l *Limiter) sweepLoop() {
	defer close(l.doneCh)
	interval := l.window()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweepIdle()
		}
	}
}

func (l *Limiter) sweepIdle() {
	cutoff := time.Now().Add(-2 * l.window())
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, rec := range l.clients {
		if rec.lastAccess.Before(cutoff) {
			delete(l.clients, id)
		}
	}
}

// ClientIdentity resolves a request to a rate-limit client key, trying in
// order: API key header, bearer token, client-ID header, remote address.
func ClientIdentity(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "apikey:" + key
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return "bearer:" + auth[7:]
	}
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return "client:" + id
	}
	return "ip:" + r.RemoteAddr
}
