package browser

import (
	"context"
	"math/rand/v2"
	"time"
)

// pacer inserts randomised pauses between interactions. A zero pacer never
// sleeps.
type pacer struct {
	enabled bool
	rnd     func(n int64) int64
}

func newPacer(enabled bool) pacer {
	return pacer{enabled: enabled, rnd: rand.Int64N}
}

// between returns a duration in [lo, hi].
func (p pacer) between(lo, hi time.Duration) time.Duration {
	if !p.enabled || hi <= 0 {
		return 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rnd(int64(hi-lo)+1))
}

func (p pacer) think(ctx context.Context) error {
	return sleep(ctx, p.between(400*time.Millisecond, 1200*time.Millisecond))
}

func (p pacer) keystroke() time.Duration {
	return p.between(40*time.Millisecond, 160*time.Millisecond)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
