package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fxintel/collector/internal/ratelimit"
)

// Policy configures the retry loop for one source.
type Policy struct {
	// MaxAttempts is the total attempt budget (default 3).
	MaxAttempts int
	// BaseBackoff is the initial backoff interval (default 1s).
	BaseBackoff time.Duration
	// MaxBackoff caps the backoff interval (default 30s).
	MaxBackoff time.Duration
	// Multiplier grows the backoff between attempts (default 2.0).
	Multiplier float64
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// Engine executes operations with rate governance, retry and backoff.
// Operations must be idempotent: the engine may invoke them several times.
type Engine struct {
	governor *ratelimit.Governor
	log      *zap.SugaredLogger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine on top of the given rate governor.
func NewEngine(governor *ratelimit.Governor, log *zap.SugaredLogger) *Engine {
	return &Engine{
		governor: governor,
		log:      log,
		sleep:    sleepCtx,
	}
}

// Execute runs op under the source's rate limit, retrying retryable failures
// per policy. Terminal failures return immediately. After the attempt budget
// is spent the last error is returned tagged E_EXHAUSTED_RETRIES.
func Execute[T any](ctx context.Context, e *Engine, sourceID string, pol Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	pol = pol.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pol.BaseBackoff
	bo.MaxInterval = pol.MaxBackoff
	bo.Multiplier = pol.Multiplier
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if err := e.governor.Acquire(ctx, sourceID); err != nil {
			return zero, err
		}

		start := time.Now()
		val, err := op(ctx)
		latency := time.Since(start)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !IsRetryable(err) {
			e.log.Warnw("terminal failure", "source", sourceID, "attempt", attempt, "latency", latency, "error", err)
			return zero, err
		}

		lastErr = err
		e.log.Warnw("retryable failure", "source", sourceID, "attempt", attempt, "latency", latency, "error", err)
		if attempt == pol.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if hint, ok := retryAfter(err); ok && hint > wait {
			wait = hint
		}
		if err := e.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, exhausted(pol.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
