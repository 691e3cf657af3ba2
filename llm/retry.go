package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpetrakis/vesper/errors"
)

// OpenFunc opens one completion request attempt and returns its raw
// fragment source. A failed attempt must not have emitted anything to the
// consumer before failing.
type OpenFunc func(ctx context.Context) (ChunkStream, error)

// RetryPolicy re-attempts opening a completion request when the failure is
// classified as transient (rate limit or connectivity), waiting
// BaseDelay*2^k before attempt k+1, without jitter. Any other failure, or a
// transient one after the budget is spent, is surfaced immediately.
type RetryPolicy struct {
	MaxRetries int           // retries beyond the first attempt
	BaseDelay  time.Duration // backoff unit
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy with the given budget and backoff unit.
func NewRetryPolicy(maxRetries int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Open runs open until it succeeds or the budget is exhausted. Partial
// state from failed attempts never leaks: an attempt either returns a live
// stream or nothing.
func (p RetryPolicy) Open(ctx context.Context, open OpenFunc) (ChunkStream, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		src, err := open(ctx)
		if err == nil {
			return src, nil
		}
		lastErr = err

		kind := errors.KindOf(err)
		if !kind.Retryable() {
			log.Debug().Err(err).Str("kind", kind.String()).Msg("retry: fatal failure, not retrying")
			return nil, err
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.BaseDelay << attempt
		log.Debug().Err(err).Str("kind", kind.String()).
			Int("attempt", attempt).Dur("backoff", delay).Msg("retry: transient failure, backing off")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, errors.Wrapf(lastErr, "retry budget exhausted after %d attempts", p.MaxRetries+1)
}

// Stream opens a request under the retry policy and decodes it. Open
// failures become a stream holding a single transport-error event, so
// consumers always get a well-terminated sequence.
func (p RetryPolicy) Stream(ctx context.Context, open OpenFunc) EventStream {
	src, err := p.Open(ctx, open)
	if err != nil {
		return NewErrorStream(err)
	}
	return NewDecoder(src)
}
