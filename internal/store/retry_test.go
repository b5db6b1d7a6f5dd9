package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryOnBusy(t *testing.T) {
	var slept []time.Duration
	sleepFn := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	noJitter := func() float64 { return 0 }

	t.Run("retries busy then succeeds", func(t *testing.T) {
		slept = nil
		calls := 0
		err := retryOnBusy(context.Background(), func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("begin: %w", ErrBusy)
			}
			return nil
		}, sleepFn, noJitter)

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{80 * time.Millisecond, 160 * time.Millisecond}, slept)
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		slept = nil
		calls := 0
		err := retryOnBusy(context.Background(), func() error {
			calls++
			return ErrBusy
		}, sleepFn, noJitter)

		assert.ErrorIs(t, err, ErrBusy)
		assert.Equal(t, 3, calls)
		assert.Len(t, slept, 2)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		slept = nil
		calls := 0
		boom := errors.New("constraint failed")
		err := retryOnBusy(context.Background(), func() error {
			calls++
			return boom
		}, sleepFn, noJitter)

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
		assert.Empty(t, slept)
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		slept = nil
		_ = retryOnBusy(context.Background(), func() error { return ErrBusy }, sleepFn, func() float64 { return 0.999 })
		for i, d := range slept {
			assert.GreaterOrEqual(t, d, time.Duration(i+1)*80*time.Millisecond)
			assert.Less(t, d, time.Duration(i+1)*160*time.Millisecond)
		}
	})
}
