// Package retry holds the retry policies used around remote calls.
//
// A Policy is data: how many times to retry, the base interval of the
// exponential backoff, and which errors are worth another attempt. Read-only
// lookups use Read, mutating calls use Write.
package retry

import (
	"context"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how an operation class is retried.
type Policy struct {
	Name       string
	MaxRetries uint64
	Base       time.Duration
	// Retryable reports whether err should be attempted again. A nil
	// Retryable never retries.
	Retryable func(err error) bool
}

var (
	// Read is used for lookups. Reads are idempotent so they get the larger budget.
	Read = Policy{Name: "read", MaxRetries: 5, Base: 500 * time.Millisecond}
	// Write is used for commits, tags and triggers.
	Write = Policy{Name: "write", MaxRetries: 2, Base: time.Second}
)

// WithRetryable returns a copy of p using fn as its predicate.
func (p Policy) WithRetryable(fn func(err error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) backoff() goretry.Backoff {
	b := goretry.NewExponential(p.Base)
	b = goretry.WithJitterPercent(10, b)
	return goretry.WithMaxRetries(p.MaxRetries, b)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// budget is spent. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempt := 0
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		slogcontext.FromCtx(ctx).Debug("Retrying after transient error",
			"policy", p.Name, "attempt", attempt, "error", err)
		return goretry.RetryableError(err)
	})
}

// Value is Do for functions that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
