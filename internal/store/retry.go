package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const busyAttempts = 3

// RetryOnBusy runs fn up to three times, backing off 80-160ms times the
// attempt number whenever fn fails with ErrBusy. Other errors are returned
// immediately.
func RetryOnBusy(ctx context.Context, fn func() error) error {
	return retryOnBusy(ctx, fn, sleep, rand.Float64)
}

func retryOnBusy(ctx context.Context, fn func() error, sleepFn func(context.Context, time.Duration) error, jitter func() float64) error {
	var err error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrBusy) {
			return err
		}
		if attempt == busyAttempts-1 {
			break
		}
		backoff := time.Duration((0.08 + jitter()*0.08) * float64(attempt+1) * float64(time.Second))
		if serr := sleepFn(ctx, backoff); serr != nil {
			return serr
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
