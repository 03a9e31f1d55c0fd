// Package core implements the supervisor state machine: the child
// table and reaper, the dependency-aware start scheduler, the
// crash-restart/backoff policy, and the runlevel transition protocol.
// Every exported mutation runs on the single goroutine driving Run's
// event loop — nothing else in this repository is allowed to touch a
// Table or a Levels value (spec §5).
package core

import (
	"time"

	"github.com/minisv/minisv/internal/registry"
)

// State is one of the seven instance states of spec §3.
type State int

const (
	Inactive State = iota
	WaitingDeps
	Starting
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case WaitingDeps:
		return "waiting_deps"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// hasChild reports whether this state is one of the three in which
// ChildID is meaningful (spec §8 invariant 1).
func (s State) hasChild() bool {
	return s == Starting || s == Running || s == Stopping
}

// ExitInfo is the last observed termination of an instance's child.
type ExitInfo struct {
	Code   int
	Signal int
	At     time.Time
}

// Instance is the mutable runtime record paired with a declared
// Service while it is supervised (spec §3).
type Instance struct {
	Service *registry.Service

	State         State
	ChildID       int // valid only while State.hasChild()
	Attempts      int
	NextAttemptAt time.Time
	LastExit      *ExitInfo
	RunningSince  time.Time // set on each entry into Running; kept after the child exits

	// StopRequested suppresses restart policy for this instance until
	// the next reload or runlevel change (spec §4.6, Stop(name)).
	StopRequested bool

	// pinned marks an instance that exhausted max_attempts without a
	// success_window-long uptime; only an external Start, a Reload, or
	// the instance leaving its runlevel clears it (spec §4.3).
	pinned bool

	// gracePeriodStart records when a graceful stop signal was sent,
	// so the runlevel machine and shutdown path know when stop_grace
	// has elapsed and a forceful kill is due.
	gracePeriodStart time.Time
}

func newInstance(svc *registry.Service) *Instance {
	return &Instance{Service: svc, State: Inactive}
}

// Status is the read-only projection returned to control-interface
// Status queries (spec §4.6).
type Status struct {
	Name     string
	State    State
	ChildID  int
	LastExit *ExitInfo
	Attempts int
}

func (i *Instance) status() Status {
	st := Status{Name: i.Service.Name, State: i.State, Attempts: i.Attempts}
	if i.State.hasChild() {
		st.ChildID = i.ChildID
	}
	st.LastExit = i.LastExit
	return st
}
