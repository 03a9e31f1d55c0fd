package core

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second

	// maxAttempts is the consecutive-failure ceiling before an
	// instance is pinned Failed and requires an external start/reload
	// (spec §4.3).
	maxAttempts = 5

	// successWindow is how long an instance must stay Running before
	// its attempt counter resets to zero (spec §4.3).
	successWindow = 30 * time.Second
)

// backoffDelay returns the delay before the attempts-th start attempt:
// min(base * 2^(attempts-1), cap), computed via
// cenkalti/backoff's exponential series rather than hand-rolled
// math.Pow (as the teacher's gosv did in handleRestarts) so the
// growth curve comes from a library the rest of the pack already
// depends on.
func backoffDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = backoffCap
	b.MaxElapsedTime = 0 // never give up on its own; maxAttempts governs that

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// recordFailure increments the attempt counter, sets the next
// permitted start time, and pins the instance Failed once maxAttempts
// is exhausted without an intervening success_window-long uptime.
func (inst *Instance) recordFailure(now time.Time) {
	inst.Attempts++
	if inst.Attempts >= maxAttempts {
		inst.pinned = true
		inst.State = Failed
		return
	}
	inst.NextAttemptAt = now.Add(backoffDelay(inst.Attempts))
}

// recordSuccessIfStable resets the attempt counter once the instance's
// current or most recent run (measured from RunningSince) has lasted at
// least successWindow (spec §4.3: "a successful success_window resets
// attempts to 0").
func (inst *Instance) recordSuccessIfStable(now time.Time) {
	if inst.RunningSince.IsZero() {
		return
	}
	if now.Sub(inst.RunningSince) >= successWindow && inst.Attempts > 0 {
		inst.Attempts = 0
	}
}

// eligibleToStart reports whether the instance may attempt a start
// right now: not pinned, and past its backoff gate.
func (inst *Instance) eligibleToStart(now time.Time) bool {
	if inst.pinned {
		return false
	}
	return !now.Before(inst.NextAttemptAt)
}

// clearPin lifts a Failed pin so the instance may be scheduled again;
// called by an explicit Start, a Reload, or the instance leaving its
// runlevel.
func (inst *Instance) clearPin() {
	inst.pinned = false
	inst.Attempts = 0
	inst.NextAttemptAt = time.Time{}
}
