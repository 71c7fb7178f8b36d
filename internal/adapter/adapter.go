// Package adapter implements per-exchange ingest connections. Each
// Adapter owns one websocket subscription, runs its own
// Disconnected→Connecting→Connected→Subscribing→Subscribed→Reconnecting
// state machine, and pushes validated-shape PriceUpdates into a non-blocking
// sink.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/events"
	"github.com/flarenet/ftso-feed-provider/internal/retry"
)

// Conn is the subset of *websocket.Conn the adapter needs, so tests can
// substitute a fake without opening a real socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn to a websocket URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// gorillaDialer adapts gorilla/websocket's DefaultDialer to Dialer.
type gorillaDialer struct{}

// NewGorillaDialer returns a Dialer backed by gorilla/websocket.
func NewGorillaDialer() Dialer { return gorillaDialer{} }

func (gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Capability declares what this exchange source can feed the pipeline,
// replacing the mixin/base-adapter inheritance of the source system with a
// plain capability value the orchestrator can introspect.
type Capability struct {
	SourceId       string
	Categories     []domain.Category
	SupportsTrades bool
}

// ParseFunc turns one raw websocket frame into a PriceUpdate. Exchange wire
// formats differ; this is supplied per exchange at construction time.
type ParseFunc func(raw []byte) (domain.PriceUpdate, error)

// SubscribeFunc builds the subscription frame(s) to send right after
// connecting, for the given canonical symbols.
type SubscribeFunc func(symbols []string) [][]byte

// Config holds one adapter's connection tunables.
type Config struct {
	SourceId      string
	WSURL         string
	PingInterval  time.Duration
	PongTimeout   time.Duration
	OutboundLimit rate.Limit
	OutboundBurst int
	Backoff       retry.Policy
}

// DefaultConfig returns conservative defaults: 5s base / 60s cap reconnect
// backoff, 20% jitter (via retry.Policy), 30s heartbeat.
func DefaultConfig(sourceId, wsURL string) Config {
	return Config{
		SourceId:      sourceId,
		WSURL:         wsURL,
		PingInterval:  30 * time.Second,
		PongTimeout:   10 * time.Second,
		OutboundLimit: rate.Limit(10),
		OutboundBurst: 20,
		Backoff: retry.Policy{
			MaxAttempts:       0, // 0 = unbounded; a live feed reconnects forever
			InitialDelay:      5 * time.Second,
			MaxDelay:          60 * time.Second,
			BackoffMultiplier: 2,
			JitterFraction:    0.2,
		},
	}
}

// ErrorEvent is published whenever the adapter's connection fails.
type ErrorEvent struct {
	SourceId string
	Err      error
}

// Adapter manages one exchange's websocket ingest connection.
type Adapter struct {
	cfg        Config
	capability Capability
	dialer     Dialer
	parse      ParseFunc
	subscribe  SubscribeFunc
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger

	updates *events.Broadcaster[domain.PriceUpdate]
	errs    *events.Broadcaster[ErrorEvent]

	mu       sync.Mutex
	state    State
	symbols  []string
	conn     Conn
	attempts int
}

// New constructs an Adapter. parse and subscribe must be non-nil and encode
// the exchange's wire format.
func New(cfg Config, capability Capability, dialer Dialer, parse ParseFunc, subscribe SubscribeFunc, log zerolog.Logger) *Adapter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.SourceId,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.Backoff.MaxDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Adapter{
		cfg:        cfg,
		capability: capability,
		dialer:     dialer,
		parse:      parse,
		subscribe:  subscribe,
		limiter:    rate.NewLimiter(cfg.OutboundLimit, cfg.OutboundBurst),
		breaker:    breaker,
		log:        log.With().Str("component", "adapter").Str("source", cfg.SourceId).Logger(),
		updates:    events.NewBroadcaster[domain.PriceUpdate](1024),
		errs:       events.NewBroadcaster[ErrorEvent](64),
		state:      Disconnected,
	}
}

// Updates registers a receiver for parsed price updates.
func (a *Adapter) Updates() <-chan domain.PriceUpdate { return a.updates.Subscribe() }

// Errors registers a receiver for connection-error events.
func (a *Adapter) Errors() <-chan ErrorEvent { return a.errs.Subscribe() }

// State reports the adapter's current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Run drives the connect/subscribe/read/reconnect loop until ctx is
// cancelled. It never returns an error on a transient connection failure —
// those are published as ErrorEvents and retried with backoff; Run only
// returns once ctx is done.
func (a *Adapter) Run(ctx context.Context, symbols []string) error {
	a.mu.Lock()
	a.symbols = symbols
	a.mu.Unlock()

	for {
		if ctx.Err() != nil {
			a.setState(Disconnected)
			return ctx.Err()
		}

		if err := a.connectSubscribeAndRead(ctx, symbols); err != nil {
			if ctx.Err() != nil {
				a.setState(Disconnected)
				return ctx.Err()
			}
			a.log.Warn().Err(err).Msg("connection failed, reconnecting")
			a.errs.Publish(ErrorEvent{SourceId: a.cfg.SourceId, Err: err})
			a.setState(Reconnecting)

			a.mu.Lock()
			a.attempts++
			attempt := a.attempts
			a.mu.Unlock()

			delay := a.cfg.Backoff.NextDelay(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				a.setState(Disconnected)
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		a.mu.Lock()
		a.attempts = 0
		a.mu.Unlock()
	}
}

func (a *Adapter) connectSubscribeAndRead(ctx context.Context, symbols []string) error {
	a.setState(Connecting)

	result, err := a.breaker.Execute(func() (any, error) {
		return a.dialer.Dial(ctx, a.cfg.WSURL)
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn := result.(Conn)

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer conn.Close()

	a.setState(Connected)
	a.setState(Subscribing)

	if !a.limiter.Allow() {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("outbound throttle: %w", err)
		}
	}
	for _, frame := range a.subscribe(symbols) {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	a.setState(Subscribed)
	return a.readLoop(ctx, conn)
}

func (a *Adapter) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_ = conn.SetReadDeadline(time.Now().Add(a.cfg.PingInterval + a.cfg.PongTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		update, perr := a.parse(message)
		if perr != nil {
			a.log.Debug().Err(perr).Msg("skipping unparseable frame")
			continue
		}
		a.updates.Publish(update)
	}
}

// Confidence computes a [0,1] trust score for one update, combining latency
// (lower is better), spread in basis points (lower is better), and
// normalized volume (higher is better, capped at 1). Each factor contributes
// independently and the result is clamped to [0,1].
func Confidence(latencyMs, spreadBp, normalizedVolume float64) float64 {
	latencyPenalty := latencyMs / 2000.0
	spreadPenalty := spreadBp / 200.0
	volumeBonus := normalizedVolume * 0.1
	if volumeBonus > 0.1 {
		volumeBonus = 0.1
	}

	score := 1.0 - latencyPenalty - spreadPenalty + volumeBonus
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// HealthCheck reports whether the adapter's circuit breaker currently
// permits new connection attempts. Satisfies an orchestrator-facing
// HealthCheckable capability without adapter inheriting from anything.
func (a *Adapter) HealthCheck() error {
	if a.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("adapter %s: circuit breaker open", a.cfg.SourceId)
	}
	return nil
}
