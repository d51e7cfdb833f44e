package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/mikey/mail-triage/internal/core"
)

func recordingRetrier(delays *[]time.Duration) *Retrier {
	r := NewRetrier(3, time.Second, zap.NewNop())
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return r
}

func TestRetrierBacksOffOnRateLimit(t *testing.T) {
	var delays []time.Duration
	r := recordingRetrier(&delays)

	calls := 0
	err := r.Do(context.Background(), "list", func() error {
		calls++
		if calls <= 2 {
			return &googleapi.Error{Code: http.StatusTooManyRequests}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRetrierGivesUpAfterMaxRetries(t *testing.T) {
	var delays []time.Duration
	r := recordingRetrier(&delays)

	calls := 0
	err := r.Do(context.Background(), "modify", func() error {
		calls++
		return &core.ProviderError{Provider: core.ProviderOutlook, Op: "modify", StatusCode: http.StatusServiceUnavailable}
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestRetrierDoesNotRetryClientErrors(t *testing.T) {
	var delays []time.Duration
	r := recordingRetrier(&delays)

	calls := 0
	err := r.Do(context.Background(), "get", func() error {
		calls++
		return &googleapi.Error{Code: http.StatusNotFound}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestRetrierRefreshesOnceOnUnauthorized(t *testing.T) {
	var delays []time.Duration
	r := recordingRetrier(&delays)
	refreshes := 0
	r.Refresh = func(ctx context.Context) error {
		refreshes++
		return nil
	}

	calls := 0
	err := r.Do(context.Background(), "list", func() error {
		calls++
		return &googleapi.Error{Code: http.StatusUnauthorized}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, refreshes)
}

func TestRetrierRefreshDoesNotConsumeRetries(t *testing.T) {
	var delays []time.Duration
	r := recordingRetrier(&delays)
	r.Refresh = func(ctx context.Context) error { return nil }

	calls := 0
	err := r.Do(context.Background(), "list", func() error {
		calls++
		switch {
		case calls == 1:
			return &googleapi.Error{Code: http.StatusUnauthorized}
		case calls <= 4:
			return &googleapi.Error{Code: http.StatusTooManyRequests}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestRetrierStopsOnCancelledContext(t *testing.T) {
	r := NewRetrier(3, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, "list", func() error {
		return &googleapi.Error{Code: http.StatusBadGateway}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 429, StatusCode(&googleapi.Error{Code: 429}))
	assert.Equal(t, 504, StatusCode(errors.Join(errors.New("x"), &core.ProviderError{StatusCode: 504})))
	assert.Zero(t, StatusCode(errors.New("plain")))
	assert.True(t, Retryable(500))
	assert.False(t, Retryable(400))
}
