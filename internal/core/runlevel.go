package core

import (
	"fmt"
	"time"

	"github.com/minisv/minisv/internal/errs"
	"github.com/minisv/minisv/internal/registry"
)

// MaxRunlevels bounds the legal runlevel ids to [0, MaxRunlevels).
const MaxRunlevels = 10

// DefaultStopGrace is how long a Stopping instance is given to exit
// after a graceful terminate signal before a forceful kill follows
// (spec §4.4).
const DefaultStopGrace = 10 * time.Second

// Levels is the runlevel state machine of spec §4.4: either Steady at
// one level, or Transitioning between two. Outside a transition,
// invariant I4 holds: current == target, and membership of `current`
// fully determines which instances are non-terminal.
type Levels struct {
	Current int
	Target  int

	// stopSet is the ordered (reverse-dependency) list of instances
	// being torn down during a transition; nil outside one.
	stopSet []*Instance
	// graceDeadline is when a forceful kill becomes due for any
	// instance in stopSet still non-terminal.
	graceDeadline time.Time
	stopGrace     time.Duration

	// pendingReload records that a Reload arrived mid-transition; it
	// is applied once the transition completes (spec §4.4).
	pendingReload bool
}

// NewLevels starts Steady at initial.
func NewLevels(initial int, stopGrace time.Duration) *Levels {
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	return &Levels{Current: initial, Target: initial, stopGrace: stopGrace}
}

// InTransition reports whether a runlevel switch is in flight.
func (l *Levels) InTransition() bool {
	return l.Current != l.Target
}

// BeginSwitch validates and starts a transition to target, returning
// the instances that must be stopped (spec §4.4's "stop every
// instance whose Service's runlevels does not contain L'"), already
// ordered reverse-dependency-first so dependents are signalled before
// their dependencies (spec O3).
//
// Switch(L) when current == L is defined as a no-op by spec §8 and
// returns (nil, nil).
func (l *Levels) BeginSwitch(reg *registry.Registry, table *Table, target int) ([]*Instance, error) {
	if target < 0 || target >= MaxRunlevels {
		return nil, fmt.Errorf("%w: %d", errs.InvalidRunlevel, target)
	}
	if target == l.Current {
		return nil, nil
	}
	if l.InTransition() {
		return nil, fmt.Errorf("%w: runlevel transition already in progress", errs.ControlProtocolError)
	}

	var toStop []string
	for _, name := range reg.Names() {
		svc, _ := reg.Get(name)
		inst, ok := table.Get(name)
		if !ok {
			continue
		}
		if svc.InRunlevel(target) {
			continue // stays alive across the transition (spec §9)
		}
		if !inst.State.hasChild() {
			// No child to signal or reap: it leaves the runlevel at once.
			inst.State = Inactive
			inst.clearPin()
			continue
		}
		toStop = append(toStop, name)
	}

	ordered := reverseDependencyOrder(reg, toStop)

	l.Target = target
	l.stopSet = nil
	now := time.Now()
	l.graceDeadline = now.Add(l.stopGrace)
	for _, name := range ordered {
		inst, _ := table.Get(name)
		inst.State = Stopping
		inst.gracePeriodStart = now
		l.stopSet = append(l.stopSet, inst)
	}

	return l.stopSet, nil
}

// reverseDependencyOrder returns names sorted so that a service
// appears before anything it depends on (the mirror image of
// Registry.topoSort, reused via ServicesFor-style Kahn sort on the
// reversed edge set).
func reverseDependencyOrder(reg *registry.Registry, names []string) []string {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	// Build dependents-of edges restricted to `names`: if A depends on
	// B, then in stop order A (the dependent) must stop before B.
	indegree := make(map[string]int, len(names))
	// An instance's indegree here counts how many of its dependents
	// (within the stop set) have not yet been scheduled to stop.
	dependentsOf := make(map[string][]string, len(names))
	for _, n := range names {
		indegree[n] = 0
	}
	for _, n := range names {
		svc, _ := reg.Get(n)
		for _, dep := range svc.Dependencies {
			if _, inSet := set[dep]; !inSet {
				continue
			}
			// n depends on dep: dep must stop after n, i.e. dep's
			// readiness-to-stop is gated by n having been scheduled.
			indegree[dep]++
			dependentsOf[n] = append(dependentsOf[n], dep)
		}
	}

	var frontier []string
	for _, n := range names {
		if indegree[n] == 0 {
			frontier = append(frontier, n)
		}
	}
	sortStrings(frontier)

	var order []string
	for len(frontier) > 0 {
		sortStrings(frontier)
		n := frontier[0]
		frontier = frontier[1:]
		order = append(order, n)
		for _, d := range dependentsOf[n] {
			indegree[d]--
			if indegree[d] == 0 {
				frontier = append(frontier, d)
			}
		}
	}
	return order
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// Tick advances an in-flight transition: force-kills anything still
// non-terminal past graceDeadline, and once everything in stopSet has
// reached Stopped|Failed, finalizes Current = Target and returns true
// so the caller runs reconciliation for the new level (spec §4.4).
func (l *Levels) Tick(now time.Time) (finalized bool, toForceKill []*Instance) {
	if !l.InTransition() {
		return false, nil
	}

	allTerminal := true
	for _, inst := range l.stopSet {
		if inst.State != Stopped && inst.State != Failed {
			allTerminal = false
			if !now.Before(l.graceDeadline) {
				toForceKill = append(toForceKill, inst)
			}
		}
	}

	if !allTerminal {
		return false, toForceKill
	}

	for _, inst := range l.stopSet {
		inst.State = Inactive
		inst.ChildID = 0
	}
	l.Current = l.Target
	l.stopSet = nil
	return true, nil
}
