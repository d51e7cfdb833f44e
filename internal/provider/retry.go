package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/mikey/mail-triage/internal/core"
)

// Retrier retries provider calls that fail with a transient HTTP status
type Retrier struct {
	MaxRetries     int
	InitialBackoff time.Duration

	// Refresh is called once when a call fails with 401, before retrying it
	Refresh func(ctx context.Context) error

	// Sleep blocks for d or until ctx is done
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *zap.Logger
}

// NewRetrier creates a retrier with the standard policy: 3 retries, 1s doubling backoff
func NewRetrier(maxRetries int, initialBackoff time.Duration, logger *zap.Logger) *Retrier {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		MaxRetries:     maxRetries,
		InitialBackoff: initialBackoff,
		Sleep:          SleepContext,
		Logger:         logger,
	}
}

// Do runs fn, retrying transient failures with exponential backoff. The call repeated
// after a credential refresh does not count as a retry.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	backoff := r.InitialBackoff
	refreshed := false
	retries := 0

	for {
		err := fn()
		if err == nil {
			return nil
		}

		status := StatusCode(err)
		if status == http.StatusUnauthorized && r.Refresh != nil && !refreshed {
			refreshed = true
			if rerr := r.Refresh(ctx); rerr != nil {
				return rerr
			}
			continue
		}

		if !Retryable(status) || retries >= r.MaxRetries {
			return err
		}
		retries++

		r.Logger.Warn("Retrying provider call",
			zap.String("op", op),
			zap.Int("status", status),
			zap.Int("attempt", retries),
			zap.Duration("backoff", backoff))

		if err := r.Sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

// Retryable reports whether a status code is worth retrying
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// StatusCode extracts the HTTP status from provider errors, or 0
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var perr *core.ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}

// SleepContext waits for d unless ctx is cancelled first
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
