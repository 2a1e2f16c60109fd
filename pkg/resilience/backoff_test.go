package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsExponentiallyUpToCap(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Multiplier: 2, Jitter: 0, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(10))
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := Backoff{Initial: time.Second, Multiplier: 1, Jitter: 0.5, MaxDelay: time.Minute}
	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
