package scanning

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of transient completion failures
type RetryPolicy struct {
	MaxAttempts     int           // total attempts including the first; defaults to 3
	InitialInterval time.Duration // defaults to 500ms
	MaxInterval     time.Duration // defaults to 5s
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	return p
}

// Retrying wraps a Completer and retries TransientError with exponential backoff.
// Every other error is returned immediately.
type Retrying struct {
	next   Completer
	policy RetryPolicy
}

// NewRetrying wraps next with the given retry policy
func NewRetrying(next Completer, policy RetryPolicy) *Retrying {
	return &Retrying{next: next, policy: policy.withDefaults()}
}

// Complete calls the wrapped Completer, retrying transient failures
func (r *Retrying) Complete(ctx context.Context, prompt string) (string, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.policy.InitialInterval
	expo.MaxInterval = r.policy.MaxInterval
	expo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(r.policy.MaxAttempts-1)), ctx)

	attempt := 0
	op := func() (string, error) {
		attempt++
		out, err := r.next.Complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if IsTransient(err) {
			return "", err
		}
		return "", backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("llm.complete.retry", "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err)
	}

	return backoff.RetryNotifyWithData(op, b, notify)
}

// Close closes the wrapped Completer
func (r *Retrying) Close() error {
	return r.next.Close()
}
