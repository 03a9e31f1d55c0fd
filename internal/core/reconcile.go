package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/minisv/minisv/internal/confine"
	"github.com/minisv/minisv/internal/errs"
	"github.com/minisv/minisv/internal/registry"
)

// MaxProcesses is the ceiling on simultaneously Starting|Running
// instances (the original MAX_PROCESSES in init_main.c, kept per
// spec §8's boundary case). A start attempt beyond this ceiling is
// logged and refused without corrupting any state.
const MaxProcesses = 256

// Reconciler computes the delta between desired and actual service
// state for the current runlevel and issues the minimum set of start
// actions (spec §4.3). It never stops anything — stopping belongs to
// the runlevel machine (spec §4.4) and graceful shutdown (spec §4.5),
// which both route through the same Table.
type Reconciler struct {
	table    *Table
	confiner *confine.Applier
	log      *zap.SugaredLogger
}

func newReconciler(t *Table, confiner *confine.Applier, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{table: t, confiner: confiner, log: log}
}

// Reconcile runs one pass against the services declared for level,
// ordered topologically (spec O2). Returns the wake time for the
// next backoff-driven retry, or the zero time if none is pending.
func (r *Reconciler) Reconcile(services []*registry.Service, now time.Time) time.Time {
	var nextWake time.Time
	running := r.countRunning()

	for _, svc := range services {
		inst, ok := r.table.Get(svc.Name)
		if !ok {
			continue
		}
		if inst.State == Running || inst.State == Starting || inst.State == Stopping {
			continue
		}
		if inst.State == Failed && inst.pinned {
			continue
		}
		if inst.StopRequested {
			// Held by Stop(name) until an explicit Start, a reload or
			// a runlevel change clears it.
			continue
		}

		if !r.dependenciesRunning(svc) {
			inst.State = WaitingDeps
			continue
		}

		if !inst.eligibleToStart(now) {
			if w := inst.NextAttemptAt; !w.IsZero() && (nextWake.IsZero() || w.Before(nextWake)) {
				nextWake = w
			}
			continue
		}

		if running >= MaxProcesses {
			r.log.Warnw("refusing start: MAX_PROCESSES reached", "service", svc.Name, "limit", MaxProcesses)
			continue
		}

		inst.State = Starting
		if err := r.spawn(inst); err != nil {
			r.log.Errorw("spawn failed", "service", svc.Name, "error", err)
			inst.State = Failed
			inst.recordFailure(now)
			if !inst.NextAttemptAt.IsZero() && (nextWake.IsZero() || inst.NextAttemptAt.Before(nextWake)) {
				nextWake = inst.NextAttemptAt
			}
			continue
		}
		inst.State = Running
		inst.RunningSince = now
		running++
	}

	return nextWake
}

// dependenciesRunning reports whether every declared dependency of
// svc currently has a Running instance.
func (r *Reconciler) dependenciesRunning(svc *registry.Service) bool {
	for _, dep := range svc.Dependencies {
		di, ok := r.table.Get(dep)
		if !ok || di.State != Running {
			return false
		}
	}
	return true
}

func (r *Reconciler) countRunning() int {
	n := 0
	for _, inst := range r.table.All() {
		if inst.State == Running || inst.State == Starting {
			n++
		}
	}
	return n
}

// afterReap applies §4.2 step 2's state transition outcome bookkeeping
// that belongs to restart policy rather than the reaper itself: once
// the reaper has moved an instance to Stopped or Failed, decide
// whether a future reconciliation pass should retry it at all.
func (r *Reconciler) afterReap(inst *Instance, now time.Time) {
	if inst.StopRequested {
		// Stop(name) suppresses restart until reload/runlevel change.
		return
	}
	// A run that lasted success_window resets the attempt counter
	// before this exit is counted.
	inst.recordSuccessIfStable(now)
	if inst.Service.RestartPolicy == registry.RestartNever {
		// Held the same way as a Stop(name): only an explicit Start, a
		// reload or a runlevel change reschedules it.
		inst.StopRequested = true
		return
	}
	switch inst.State {
	case Failed:
		inst.recordFailure(now)
	case Stopped:
		// Left Stopped, eligible for the next reconciliation pass to
		// restart it immediately (subject to backoff gate).
	}
}

// unknownService is a helper for control handlers (spec §7:
// UnknownService reported to caller, otherwise ignored).
func unknownService(name string) error {
	return errWrap(errs.UnknownService, name)
}

func errWrap(base error, detail string) error {
	return &wrappedErr{base: base, detail: detail}
}

type wrappedErr struct {
	base   error
	detail string
}

func (e *wrappedErr) Error() string { return e.base.Error() + ": " + e.detail }
func (e *wrappedErr) Unwrap() error { return e.base }
