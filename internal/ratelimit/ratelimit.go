package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RowPacer holds the pipeline back so consecutive rows start at least a
// random delay in [min, max) apart. Time spent processing a row counts
// toward the delay. The first Wait never blocks.
type RowPacer struct {
	mu      sync.Mutex
	min     time.Duration
	max     time.Duration
	started time.Time
	rnd     *rand.Rand
}

func NewRowPacer(min, max time.Duration) *RowPacer {
	if max < min {
		max = min
	}
	return &RowPacer{
		min: min,
		max: max,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until the next row may start or ctx is done.
func (p *RowPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started.IsZero() {
		if remaining := p.pick() - time.Since(p.started); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	p.started = time.Now()
	return nil
}

// Bounds reports the configured delay range.
func (p *RowPacer) Bounds() (time.Duration, time.Duration) {
	return p.min, p.max
}

func (p *RowPacer) pick() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + time.Duration(p.rnd.Int63n(int64(p.max-p.min)))
}
