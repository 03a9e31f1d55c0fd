package core

import (
	"time"

	"golang.org/x/sys/unix"
)

// gracefulShutdown is spec §4.5: stop every active instance in
// reverse dependency order with the same grace-then-kill discipline
// as a runlevel transition, then mark the supervisor for exit. Control
// requests that queued up while it ran are rejected by Run before it
// returns.
func (s *Supervisor) gracefulShutdown() {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.log.Infow("initiating graceful shutdown")

	var active []string
	for _, name := range s.reg.Names() {
		inst, ok := s.table.Get(name)
		if !ok {
			continue
		}
		if inst.State == Running || inst.State == Starting || inst.State == Stopping {
			active = append(active, name)
		}
	}

	ordered := reverseDependencyOrder(s.reg, active)
	now := time.Now()
	for _, name := range ordered {
		inst, _ := s.table.Get(name)
		if inst.State != Stopping {
			inst.State = Stopping
			inst.gracePeriodStart = now
			s.log.Infow("sending terminate signal", "service", name)
			_ = signalGroup(inst.ChildID, unix.SIGTERM)
		}
	}

	deadline := now.Add(s.stopGrace)
	for {
		allDone := true
		for _, name := range ordered {
			inst, _ := s.table.Get(name)
			if inst.State != Stopped && inst.State != Failed {
				allDone = false
			}
		}
		if allDone {
			s.log.Infow("all processes terminated, exiting")
			return
		}
		if !time.Now().Before(deadline) {
			break
		}

		// Reap opportunistically while waiting for the grace window
		// to elapse; this is the one place outside the main select
		// loop the core blocks, and only after the grace timer logic
		// above has already been evaluated once (spec §5: "blocking
		// waitpid may be used only inside graceful shutdown after the
		// grace timer expired" — here we still poll non-blockingly to
		// stay responsive to multiple exits coalesced on one signal).
		reconcileNames := s.reaper.Drain(s.table)
		for range reconcileNames {
			// No restart during shutdown; state transitions already
			// applied by Drain are sufficient.
		}
		time.Sleep(50 * time.Millisecond)
	}

	for _, name := range ordered {
		inst, _ := s.table.Get(name)
		if inst.State != Stopped && inst.State != Failed {
			s.log.Warnw("stop grace expired, force killing", "service", name)
			_ = signalGroup(inst.ChildID, unix.SIGKILL)
		}
	}

	// Final blocking reap of anything still outstanding, now that
	// SIGKILL has been sent — spec §5's one allowance for a blocking
	// waitpid.
	for _, name := range ordered {
		inst, _ := s.table.Get(name)
		if inst.ChildID != 0 {
			var ws unix.WaitStatus
			_, _ = unix.Wait4(inst.ChildID, &ws, 0, nil)
			inst.State = Stopped
			inst.ChildID = 0
		}
	}
	s.log.Infow("shutdown complete")
}
