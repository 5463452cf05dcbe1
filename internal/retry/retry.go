// Package retry holds the one backoff policy the signaling core uses.
// Presence writes racing the subscription handshake are the motivating
// case; everything else in the system is fail-fast.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultAttempts = 5
	DefaultBase     = 200 * time.Millisecond
)

type Policy struct {
	Attempts int
	Base     time.Duration
	Clock    clock.Clock
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	return p
}

// Do runs fn up to p.Attempts times, doubling the delay between
// attempts starting from p.Base. It returns nil on the first success,
// ctx.Err() if cancelled between attempts, and the last error wrapped
// with the attempt count once attempts are exhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	delay := p.Base
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.Attempts {
			return fmt.Errorf("%d attempts exhausted: %w", p.Attempts, err)
		}
		timer := p.Clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
