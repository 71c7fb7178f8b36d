// Package retry executes an operation under a bounded
// exponential-backoff-with-jitter policy, with cooperative cancellation.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// Policy configures one retry attempt sequence, with a caller-supplied
// classification of which error kinds are worth retrying.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFraction    float64
	RetryableKinds    []domain.Kind
}

// DefaultPolicy returns a conservative policy: 3 attempts, 5s/60s backoff
// bounds, 2x multiplier, 20% jitter, retrying only Transient errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      5 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
		RetryableKinds:    []domain.Kind{domain.KindTransient},
	}
}

func (p Policy) isRetryable(kind domain.Kind) bool {
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// delayForAttempt returns the (pre-jitter) delay before attempt n (1-based)'s
// predecessor's retry, i.e. the sleep taken after attempt n fails.
func (p Policy) delayForAttempt(n int) time.Duration {
	raw := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(n-1))
	if raw > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(raw)
}

// NextDelay returns the jittered backoff delay before attempt n+1, for
// callers that drive their own retry loop outside Execute (e.g. the
// adapter's indefinite reconnect loop, which has no fixed MaxAttempts).
func (p Policy) NextDelay(attempt int) time.Duration {
	return p.jittered(p.delayForAttempt(attempt))
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.JitterFraction <= 0 {
		return d
	}
	// +/- JitterFraction around d.
	spread := float64(d) * p.JitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	jittered := float64(d) + offset
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Operation is the unit of work executed under a Policy. It should itself
// classify failures by returning a *domain.Error so Execute can decide
// whether to retry.
type Operation func(ctx context.Context, attempt int) error

// Execute runs op under policy, retrying on retryable errors up to
// MaxAttempts times. Cancellation is observed before each attempt and during
// the backoff sleep; a cancelled context yields domain.ErrCancelled without
// further attempts, and is never itself retried.
func Execute(ctx context.Context, policy Policy, op Operation) error {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.NewError(domain.KindCancelled, "retry.Execute", err)
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		kind, nonRetryable := classify(lastErr)
		if nonRetryable {
			return lastErr
		}
		if !policy.isRetryable(kind) || attempt == policy.MaxAttempts {
			return lastErr
		}

		delay := policy.jittered(policy.delayForAttempt(attempt))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.NewError(domain.KindCancelled, "retry.Execute", ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// classify extracts the domain.Kind from err, if tagged, and reports whether
// the error is one of the kinds that must never be retried regardless of
// policy configuration (Cancelled, InvalidInput, AuthFailure). An untagged
// error is reported as InternalError; whether any other kind is retried is
// left to the policy's RetryableKinds.
func classify(err error) (domain.Kind, bool) {
	var de *domain.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case domain.KindCancelled, domain.KindInvalidInput, domain.KindAuthFailure:
			return de.Kind, true
		default:
			return de.Kind, false
		}
	}
	return domain.KindInternalError, false
}
