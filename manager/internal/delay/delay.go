// Package delay shapes response timing on unauthenticated endpoints so
// that a miss cannot be told apart from a hit by latency.
package delay

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes the two delays applied to a request: a uniformly
// random jitter in [MinJitter, MaxJitter] at the start of every request,
// and a fixed NotFound pause before a miss is reported. The zero Policy
// never sleeps.
type Policy struct {
	MinJitter time.Duration
	MaxJitter time.Duration
	NotFound  time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewPolicy returns a Policy with the given bounds.
func NewPolicy(minJitter, maxJitter, notFound time.Duration) Policy {
	return Policy{MinJitter: minJitter, MaxJitter: maxJitter, NotFound: notFound}
}

// Disabled returns a policy that never sleeps.
func Disabled() Policy {
	return Policy{}
}

// JitterDuration draws the pre-processing delay.
func (p Policy) JitterDuration() time.Duration {
	if p.MaxJitter <= p.MinJitter {
		return max(p.MinJitter, 0)
	}
	return p.MinJitter + rand.N(p.MaxJitter-p.MinJitter+1)
}

// Jitter blocks for a random duration within the jitter bounds.
func (p Policy) Jitter(ctx context.Context) {
	p.wait(ctx, p.JitterDuration())
}

// Miss blocks for the fixed not-found delay.
func (p Policy) Miss(ctx context.Context) {
	p.wait(ctx, p.NotFound)
}

func (p Policy) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if p.sleep != nil {
		p.sleep(ctx, d)
		return
	}
	Sleep(ctx, d)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
