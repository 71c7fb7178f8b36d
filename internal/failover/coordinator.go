// Package failover tracks per-source health and mutates each feed's active
// source set as sources degrade and recover.
package failover

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/events"
)

// Status is one source's health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusRecovered Status = "recovered"
)

// SourceHealth is the health record for one exchange/source connection.
type SourceHealth struct {
	SourceId      string
	Status        Status
	LastUpdate    time.Time
	ErrorCount    int64
	RecoveryCount int64
}

// Config holds the health-state transition thresholds.
type Config struct {
	DegradedAfterErrors  int64
	UnhealthyAfterErrors int64
	RecoverAfterSuccesses int64
	StaleAfter           time.Duration
}

// DefaultConfig returns conservative transition thresholds.
func DefaultConfig() Config {
	return Config{
		DegradedAfterErrors:   3,
		UnhealthyAfterErrors:  10,
		RecoverAfterSuccesses: 5,
		StaleAfter:            30 * time.Second,
	}
}

// Severity mirrors the alert severities exposed over the HTTP/metrics
// surface.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is published on every health-status transition.
type Alert struct {
	SourceId  string
	Severity  Severity
	Status    Status
	Message   string
	Timestamp time.Time
}

func severityFor(status Status) Severity {
	switch status {
	case StatusUnhealthy:
		return SeverityCritical
	case StatusDegraded:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Coordinator tracks per-source health and the ordered candidate source list
// for each feed, mutating the active set as sources degrade and recover.
type Coordinator struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	sources  map[string]*SourceHealth
	feedCandidates map[domain.FeedId][]string

	alerts *events.Broadcaster[Alert]
}

// New constructs a Coordinator.
func New(cfg Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		log:            log.With().Str("component", "failover").Logger(),
		sources:        make(map[string]*SourceHealth),
		feedCandidates: make(map[domain.FeedId][]string),
		alerts:         events.NewBroadcaster[Alert](64),
	}
}

// Subscribe registers a receiver for health-transition alerts.
func (c *Coordinator) Subscribe() <-chan Alert {
	return c.alerts.Subscribe()
}

// RegisterCandidates sets the ordered candidate source list for feed. Order
// determines failover priority: ActiveSources returns healthy/degraded
// sources in this order, skipping unhealthy ones.
func (c *Coordinator) RegisterCandidates(feed domain.FeedId, sources []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := make([]string, len(sources))
	copy(ordered, sources)
	c.feedCandidates[feed] = ordered

	for _, s := range sources {
		if _, ok := c.sources[s]; !ok {
			c.sources[s] = &SourceHealth{SourceId: s, Status: StatusHealthy, LastUpdate: time.Now()}
		}
	}
}

func (c *Coordinator) healthFor(sourceId string) *SourceHealth {
	h, ok := c.sources[sourceId]
	if !ok {
		h = &SourceHealth{SourceId: sourceId, Status: StatusHealthy}
		c.sources[sourceId] = h
	}
	return h
}

// RecordSuccess records a successful update from sourceId, advancing its
// recovery count and possibly transitioning it back to healthy: a source
// becomes Recovered after RecoverAfterSuccesses successes, and Healthy on the
// next success after that.
func (c *Coordinator) RecordSuccess(sourceId string) {
	c.mu.Lock()
	h := c.healthFor(sourceId)
	h.LastUpdate = time.Now()
	h.ErrorCount = 0

	prev := h.Status
	var alert *Alert
	if prev != StatusHealthy {
		h.RecoveryCount++
		next := prev
		switch {
		case prev == StatusRecovered:
			next = StatusHealthy
		case h.RecoveryCount >= c.cfg.RecoverAfterSuccesses:
			next = StatusRecovered
		}
		if next != prev {
			h.Status = next
			msg := "source recovered"
			if next == StatusHealthy {
				msg = "source healthy"
			}
			a := Alert{SourceId: sourceId, Severity: severityFor(next), Status: next, Message: msg, Timestamp: h.LastUpdate}
			alert = &a
		}
	}
	c.mu.Unlock()

	if alert != nil {
		c.alerts.Publish(*alert)
	}
}

// RecordError records a failed update/connection attempt from sourceId,
// advancing its error count and possibly demoting it to degraded or
// unhealthy.
func (c *Coordinator) RecordError(sourceId string, cause error) {
	c.mu.Lock()
	h := c.healthFor(sourceId)
	h.LastUpdate = time.Now()
	h.ErrorCount++
	h.RecoveryCount = 0

	prev := h.Status
	next := prev
	switch {
	case h.ErrorCount >= c.cfg.UnhealthyAfterErrors:
		next = StatusUnhealthy
	case h.ErrorCount >= c.cfg.DegradedAfterErrors:
		if prev != StatusUnhealthy {
			next = StatusDegraded
		}
	}

	var alert *Alert
	if next != prev {
		h.Status = next
		msg := "source degraded"
		if next == StatusUnhealthy {
			msg = "source unhealthy"
		}
		a := Alert{SourceId: sourceId, Severity: severityFor(next), Status: next, Message: msg, Timestamp: h.LastUpdate}
		alert = &a
	}
	c.mu.Unlock()

	if alert != nil {
		c.log.Warn().Str("source", sourceId).Str("status", string(next)).Err(cause).Msg("source health transition")
		c.alerts.Publish(*alert)
	}
}

// GetSourceHealth returns a copy of sourceId's current health record.
func (c *Coordinator) GetSourceHealth(sourceId string) (SourceHealth, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.sources[sourceId]
	if !ok {
		return SourceHealth{}, false
	}
	return *h, true
}

// AllSourceHealth returns a snapshot of every known source's health record,
// for status surfaces that report on the whole fleet rather than one feed.
func (c *Coordinator) AllSourceHealth() []SourceHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SourceHealth, 0, len(c.sources))
	for _, h := range c.sources {
		out = append(out, *h)
	}
	return out
}

// ActiveSources returns feed's candidate sources, in registered priority
// order, excluding any currently unhealthy source.
func (c *Coordinator) ActiveSources(feed domain.FeedId) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidates := c.feedCandidates[feed]
	active := make([]string, 0, len(candidates))
	for _, s := range candidates {
		h, ok := c.sources[s]
		if ok && h.Status == StatusUnhealthy {
			continue
		}
		active = append(active, s)
	}
	return active
}
