package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 6: with maxRequests=3, windowMs=60000, four rapid requests
// from one client yield admissions true,true,true,false, and the fourth
// carries a Retry-After no greater than 60s.
func TestLimiter_FourthRequestBlockedWithinWindow(t *testing.T) {
	l := New(Config{WindowMs: 60_000, MaxRequests: 3})
	t.Cleanup(l.Close)

	var got []bool
	var last Result
	for i := 0; i < 4; i++ {
		last = l.Admit("client-a")
		got = append(got, last.Allowed)
	}

	assert.Equal(t, []bool{true, true, true, false}, got)
	retryAfterSeconds := (last.MsBeforeNext + 999) / 1000
	assert.LessOrEqual(t, retryAfterSeconds, int64(60))
}

// Property: in any window of windowMs, at most maxRequests admissions
// per client.
func TestLimiter_ConservationWithinWindow(t *testing.T) {
	l := New(Config{WindowMs: 200, MaxRequests: 5})
	t.Cleanup(l.Close)

	admitted := 0
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if l.Admit("client-b").Allowed {
			admitted++
		}
	}
	assert.LessOrEqual(t, admitted, 5)
}

func TestLimiter_DistinctClientsHaveIndependentBudgets(t *testing.T) {
	l := New(Config{WindowMs: 60_000, MaxRequests: 1})
	t.Cleanup(l.Close)

	require.True(t, l.Admit("a").Allowed)
	require.True(t, l.Admit("b").Allowed)
	assert.False(t, l.Admit("a").Allowed)
}

func TestLimiter_AllowsAgainAfterWindowElapses(t *testing.T) {
	l := New(Config{WindowMs: 50, MaxRequests: 1})
	t.Cleanup(l.Close)

	require.True(t, l.Admit("c").Allowed)
	require.False(t, l.Admit("c").Allowed)

	time.Sleep(120 * time.Millisecond)
	assert.True(t, l.Admit("c").Allowed)
}

func TestClientIdentity_ResolutionOrder(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "ip:10.0.0.1:1234", ClientIdentity(req))

	req.Header.Set("X-Client-Id", "abc")
	assert.Equal(t, "client:abc", ClientIdentity(req))

	req.Header.Set("Authorization", "Bearer tok123")
	assert.Equal(t, "bearer:tok123", ClientIdentity(req))

	req.Header.Set("X-API-Key", "key1")
	assert.Equal(t, "apikey:key1", ClientIdentity(req))
}
