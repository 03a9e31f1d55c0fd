package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/minisv/minisv/internal/registry"
)

// TestBackoffDelayMatchesWorkedExample covers spec §4.3's worked
// example: attempts 1, 2, 3 produce delays of 1s, 2s, 4s.
func TestBackoffDelayMatchesWorkedExample(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 4*time.Second, backoffDelay(3))
}

func TestBackoffDelayCapped(t *testing.T) {
	assert.Equal(t, backoffCap, backoffDelay(20))
}

func TestRecordFailurePinsAfterMaxAttempts(t *testing.T) {
	inst := newInstance(&registry.Service{Name: "A"})
	now := time.Now()
	for i := 0; i < maxAttempts-1; i++ {
		inst.recordFailure(now)
		assert.False(t, inst.pinned)
	}
	inst.recordFailure(now)
	assert.True(t, inst.pinned)
	assert.Equal(t, Failed, inst.State)
	assert.False(t, inst.eligibleToStart(now))
}

func TestRecordSuccessResetsAfterStableWindow(t *testing.T) {
	inst := newInstance(&registry.Service{Name: "A"})
	inst.Attempts = 3
	inst.State = Running
	inst.RunningSince = time.Now().Add(-successWindow - time.Second)

	inst.recordSuccessIfStable(time.Now())
	assert.Equal(t, 0, inst.Attempts)
}

func TestRecordSuccessLeavesAttemptsBeforeWindow(t *testing.T) {
	inst := newInstance(&registry.Service{Name: "A"})
	inst.Attempts = 3
	inst.State = Running
	inst.RunningSince = time.Now()

	inst.recordSuccessIfStable(time.Now())
	assert.Equal(t, 3, inst.Attempts)
}

func TestClearPinLiftsFailure(t *testing.T) {
	inst := newInstance(&registry.Service{Name: "A"})
	now := time.Now()
	for i := 0; i < maxAttempts; i++ {
		inst.recordFailure(now)
	}
	assert.True(t, inst.pinned)

	inst.clearPin()
	assert.False(t, inst.pinned)
	assert.Equal(t, 0, inst.Attempts)
	assert.True(t, inst.eligibleToStart(now))
}
