// Package retry decorates single gateway calls with a hard per-attempt
// timeout and a bounded retry on quota rejection.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"missionforge/internal/gateway"
	"missionforge/internal/logging"
	"missionforge/internal/mission"
)

// quotaRetries is how many times a quota rejection is retried. A second
// rejection surfaces as RESOURCE_EXHAUSTED.
const quotaRetries = 1

// Policy configures Do.
type Policy struct {
	Op        string        // names the call in errors and logs
	Timeout   time.Duration // per attempt; 0 disables
	BaseDelay time.Duration // backoff before retry n is BaseDelay * 2^n
	MaxDelay  time.Duration // 0 means uncapped

	// NoRetry disables the quota retry; the policy then only enforces the
	// timeout.
	NoRetry bool

	// IsQuota overrides quota detection. Defaults to gateway.IsQuotaExceeded.
	IsQuota func(error) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:   120 * time.Second,
		BaseDelay: 2 * time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// Named returns a copy of p with Op set.
func (p Policy) Named(op string) Policy {
	p.Op = op
	return p
}

// TimeoutOnly returns a copy of p that never retries and uses timeout.
func (p Policy) TimeoutOnly(timeout time.Duration) Policy {
	p.Timeout = timeout
	p.NoRetry = true
	return p
}

// Do runs fn under p.
//
// Outcomes:
//   - success: the value
//   - attempt deadline passes while ctx is live: NODE_TIMEOUT
//   - ctx done: ctx.Err(), untouched
//   - quota rejection: one retry after backoff, then RESOURCE_EXHAUSTED
//   - anything else: GATEWAY_FAILURE wrapping the cause, never retried
//
// Errors already classified as *mission.Error pass through unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	isQuota := p.IsQuota
	if isQuota == nil {
		isQuota = gateway.IsQuotaExceeded
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := attempt(ctx, p, fn)
		if err == nil {
			if n > 0 {
				logging.Retry("Retry succeeded for %s on attempt %d", p.Op, n+1)
			}
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		var classified *mission.Error
		if errors.As(err, &classified) {
			return zero, err
		}
		if p.NoRetry || !isQuota(err) {
			return zero, mission.NewError(mission.ErrGatewayFailure, p.Op, err)
		}
		if n >= quotaRetries {
			logging.RetryWarn("%s still rate limited after %d attempts", p.Op, n+1)
			return zero, mission.NewError(mission.ErrResourceExhausted, p.Op, err)
		}

		backoff := calculateBackoff(p, n)
		logging.RetryWarn("%s rate limited, retrying in %v (attempt %d)", p.Op, backoff, n+2)
		if p.OnRetry != nil {
			p.OnRetry(n+1, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

type result[T any] struct {
	v   T
	err error
}

// attempt runs fn once with the per-attempt deadline. The call runs in its
// own goroutine so a callee that ignores its context cannot hold the caller
// past the deadline; its late result is dropped into a buffered channel.
func attempt[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.Timeout <= 0 {
		return fn(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(actx)
		ch <- result[T]{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, timeoutError(p)
		}
		return r.v, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, timeoutError(p)
	}
}

func timeoutError(p Policy) error {
	logging.RetryWarn("%s exceeded %v", p.Op, p.Timeout)
	return mission.NewError(mission.ErrNodeTimeout, p.Op, context.DeadlineExceeded)
}

// calculateBackoff computes exponential backoff.
func calculateBackoff(p Policy, attempt int) time.Duration {
	// Exponential backoff: base * 2^attempt
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))

	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}

	return time.Duration(backoff)
}
