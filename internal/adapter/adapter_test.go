package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// fakeConn is an in-memory Conn that replays a fixed sequence of frames then
// reports a read error, simulating a dropped connection. When hold is set,
// the read after the last frame blocks until hold is closed.
type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	idx       int
	closed    bool
	written   [][]byte
	readErr   error
	hold      chan struct{}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if c.idx >= len(c.frames) && c.hold != nil {
		hold := c.hold
		c.mu.Unlock()
		<-hold
		c.mu.Lock()
	}
	defer c.mu.Unlock()
	if c.idx >= len(c.frames) {
		if c.readErr != nil {
			return 0, nil, c.readErr
		}
		return 0, nil, errors.New("eof")
	}
	f := c.frames[c.idx]
	c.idx++
	return 1, f, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	conns []*fakeConn
	idx   int
	mu    sync.Mutex
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.idx >= len(d.conns) {
		return nil, errors.New("no more fake conns")
	}
	c := d.conns[d.idx]
	d.idx++
	return c, nil
}

func parseUppercaseJSON(raw []byte) (domain.PriceUpdate, error) {
	return domain.PriceUpdate{
		Symbol:      string(raw),
		Price:       100.0,
		TimestampMs: time.Now().UnixMilli(),
		Source:      "test",
		Confidence:  1.0,
	}, nil
}

func subscribeAll(symbols []string) [][]byte {
	return [][]byte{[]byte("subscribe")}
}

func TestAdapter_PublishesParsedUpdates(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{[]byte("BTC/USD"), []byte("ETH/USD")}}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	cfg := DefaultConfig("test-exchange", "wss://example.invalid")
	a := New(cfg, Capability{SourceId: "test-exchange"}, dialer, parseUppercaseJSON, subscribeAll, zerolog.Nop())

	updates := a.Updates()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx, []string{"BTC/USD", "ETH/USD"})

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case u := <-updates:
			got = append(got, u.Symbol)
		case <-time.After(time.Second):
			t.Fatal("expected update")
		}
	}
	assert.ElementsMatch(t, []string{"BTC/USD", "ETH/USD"}, got)
	assert.Len(t, conn.written, 1)
}

func TestAdapter_StateProgressesToSubscribed(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{[]byte("BTC/USD")}, hold: make(chan struct{})}
	defer close(conn.hold)
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	cfg := DefaultConfig("test-exchange", "wss://example.invalid")
	a := New(cfg, Capability{SourceId: "test-exchange"}, dialer, parseUppercaseJSON, subscribeAll, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, []string{"BTC/USD"})

	require.Eventually(t, func() bool {
		return a.State() == Subscribed
	}, time.Second, 5*time.Millisecond)
}

func TestAdapter_ReconnectsAndPublishesErrorOnDialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	cfg := DefaultConfig("test-exchange", "wss://example.invalid")
	cfg.Backoff.InitialDelay = 5 * time.Millisecond
	cfg.Backoff.MaxDelay = 10 * time.Millisecond

	a := New(cfg, Capability{SourceId: "test-exchange"}, dialer, parseUppercaseJSON, subscribeAll, zerolog.Nop())
	errs := a.Errors()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, []string{"BTC/USD"})

	select {
	case evt := <-errs:
		assert.Equal(t, "test-exchange", evt.SourceId)
		assert.Error(t, evt.Err)
	case <-time.After(time.Second):
		t.Fatal("expected connection error event")
	}
}

func TestAdapter_RunStopsOnContextCancel(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	cfg := DefaultConfig("test-exchange", "wss://example.invalid")
	cfg.Backoff.InitialDelay = 5 * time.Millisecond
	cfg.Backoff.MaxDelay = 10 * time.Millisecond

	a := New(cfg, Capability{SourceId: "test-exchange"}, dialer, parseUppercaseJSON, subscribeAll, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, []string{"BTC/USD"}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after cancel")
	}
}

func TestConfidence_MonotoneInEachFactor(t *testing.T) {
	base := Confidence(100, 10, 0.5)
	worse := Confidence(1000, 10, 0.5)
	assert.Less(t, worse, base, "higher latency must not increase confidence")

	betterVolume := Confidence(100, 10, 5.0)
	assert.GreaterOrEqual(t, betterVolume, base)

	clamped := Confidence(100000, 100000, 0)
	assert.Equal(t, 0.0, clamped)
}
