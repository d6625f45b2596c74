package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testBreaker(openDuration time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(BreakerConfig{
		FailureThreshold:  3,
		OpenDuration:      openDuration,
		HalfOpenSuccesses: 1,
	})
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := testBreaker(time.Minute)

	assert.Equal(t, CircuitClosed, b.State())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, CircuitClosed, b.State(), "below threshold stays closed")

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow(), "open circuit fails fast")
	assert.False(t, b.LastFailure().IsZero())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := testBreaker(time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The count starts over; two more failures are not enough.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := testBreaker(30 * time.Millisecond)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())

	time.Sleep(50 * time.Millisecond)

	// After the cooldown exactly one probe is admitted.
	assert.True(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())
	assert.False(t, b.Allow(), "probe budget is spent")

	b.RecordSuccess()
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := testBreaker(30 * time.Millisecond)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	time.Sleep(50 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerReset(t *testing.T) {
	b := testBreaker(time.Minute)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
	assert.True(t, b.LastFailure().IsZero())
}

func TestBreakerDefaults(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{})

	assert.Equal(t, DefaultBreakerConfig().FailureThreshold, b.config.FailureThreshold)
	assert.Equal(t, DefaultBreakerConfig().OpenDuration, b.config.OpenDuration)
	assert.Equal(t, DefaultBreakerConfig().HalfOpenSuccesses, b.config.HalfOpenSuccesses)
}
