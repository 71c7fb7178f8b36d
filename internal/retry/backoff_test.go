package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

func TestExecute_RetriesTransientUntilSuccess(t *testing.T) {
	policy := Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		JitterFraction:    0,
		RetryableKinds:    []domain.Kind{domain.KindTransient},
	}

	attempts := 0
	err := Execute(context.Background(), policy, func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 2 {
			return domain.NewError(domain.KindTransient, "fetch", assert.AnError)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestExecute_BoundedByMaxAttempts(t *testing.T) {
	policy := Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryableKinds:    []domain.Kind{domain.KindTransient},
	}

	attempts := 0
	err := Execute(context.Background(), policy, func(ctx context.Context, attempt int) error {
		attempts++
		return domain.NewError(domain.KindTransient, "fetch", assert.AnError)
	})

	require.Error(t, err)
	assert.Equal(t, policy.MaxAttempts, attempts)
}

func TestExecute_NonRetryableKindStopsImmediately(t *testing.T) {
	policy := DefaultPolicy()
	attempts := 0
	err := Execute(context.Background(), policy, func(ctx context.Context, attempt int) error {
		attempts++
		return domain.NewError(domain.KindInvalidInput, "fetch", assert.AnError)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecute_CancellationDuringSleep(t *testing.T) {
	policy := Policy{
		MaxAttempts:       5,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		RetryableKinds:    []domain.Kind{domain.KindTransient},
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Execute(ctx, policy, func(ctx context.Context, attempt int) error {
		attempts++
		return domain.NewError(domain.KindTransient, "fetch", assert.AnError)
	})

	require.Error(t, err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindCancelled, de.Kind)
}

func TestExecute_NoRetryOnCancelledContextBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Execute(ctx, DefaultPolicy(), func(ctx context.Context, attempt int) error {
		attempts++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, attempts)
}
