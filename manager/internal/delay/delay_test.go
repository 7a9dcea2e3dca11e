package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func recording(p Policy) (Policy, *[]time.Duration) {
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }
	return p, &slept
}

func TestJitterWithinBounds(t *testing.T) {
	p := NewPolicy(10*time.Millisecond, 20*time.Millisecond, time.Second)
	for i := 0; i < 1000; i++ {
		d := p.JitterDuration()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestFixedJitterWhenBoundsCollapse(t *testing.T) {
	p := NewPolicy(5*time.Millisecond, 5*time.Millisecond, 0)
	assert.Equal(t, 5*time.Millisecond, p.JitterDuration())
}

func TestMissSleepsNotFound(t *testing.T) {
	p, slept := recording(NewPolicy(0, 0, 250*time.Millisecond))
	p.Jitter(context.Background())
	p.Miss(context.Background())
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, *slept)
}

func TestDisabledNeverSleeps(t *testing.T) {
	p, slept := recording(Disabled())
	p.Jitter(context.Background())
	p.Miss(context.Background())
	assert.Empty(t, *slept)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	Sleep(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}
