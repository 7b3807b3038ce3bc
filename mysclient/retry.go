package mysclient

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gaserrors"
)

// retryBaseDelay is the per-attempt backoff step and retryMaxDelay caps the
// step, for both retry policies below; jitter then adds up to a quarter of
// the capped step on top.
const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

func jitteredDelay(attempt int) time.Duration {
	d := retryBaseDelay * time.Duration(attempt+1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d - jitter/2 + jitter
}

// retryForever retries fn with a jittered backoff until it succeeds or ctx
// is cancelled. It is used only for reads against the chain's ground truth,
// where the operation is pure and always eventually safe to retry.
func retryForever[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var attempt int
	for {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		log.Debug("chain rpc retrying", "op", op, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(jitteredDelay(attempt)):
		}
		attempt++
	}
}

// retryWithAttempts retries fn up to maxAttempts times, returning
// gaserrors.ErrChainUnavailable wrapping the last error once exhausted.
// Used for effectful or caller-surfaced operations.
func retryWithAttempts[T any](ctx context.Context, op string, maxAttempts int, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		log.Debug("chain rpc retrying", "op", op, "attempt", attempt, "maxAttempts", maxAttempts, "err", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(jitteredDelay(attempt)):
		}
	}
	return zero, fmt.Errorf("%w: %s exhausted %d attempts: %v", gaserrors.ErrChainUnavailable, op, maxAttempts, lastErr)
}
