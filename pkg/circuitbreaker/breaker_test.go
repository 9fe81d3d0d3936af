package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(8453, true, 3, time.Minute, time.Minute, nil)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())
}

func TestDisabledNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker(8453, false, 1, time.Minute, time.Minute, nil)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
	assert.False(t, cb.IsEnabled())
}

func TestSuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker(8453, true, 3, time.Minute, time.Minute, nil)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}

func TestManualReset(t *testing.T) {
	cb := NewCircuitBreaker(8453, true, 1, time.Minute, time.Hour, nil)

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.False(t, cb.IsOpen())

	count, _, _, _ := cb.GetState()
	assert.Equal(t, 0, count)
}

func TestResetTimeoutReopens(t *testing.T) {
	cb := NewCircuitBreaker(8453, true, 1, time.Minute, 10*time.Millisecond, nil)

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cb.IsOpen())
}

func TestFailureWindowExpiry(t *testing.T) {
	cb := NewCircuitBreaker(8453, true, 2, 10*time.Millisecond, time.Minute, nil)

	assert.False(t, cb.RecordFailure())
	time.Sleep(20 * time.Millisecond)

	// first failure aged out of the window, so this does not trip
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}
