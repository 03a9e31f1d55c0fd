package core

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Reaper drains finished children non-blockingly whenever a
// child-exited event arrives (spec §4.2). It never decides whether to
// restart anything; it only updates the child table and reports which
// service names need a reconciliation pass, so that backoff and
// dependency re-checks apply uniformly regardless of why a
// reconciliation was triggered.
type Reaper struct {
	log *zap.SugaredLogger
}

func newReaper(log *zap.SugaredLogger) *Reaper {
	return &Reaper{log: log}
}

// Drain loops waitpid(-1, WNOHANG) until no more children are
// immediately reapable, crediting each exit to its owning instance.
// A single SIGCHLD can coalesce multiple child exits, so looping here
// — rather than reaping once per signal — is required for
// correctness (spec §4.2, §5).
func (r *Reaper) Drain(t *Table) (needsReconcile map[string]struct{}) {
	needsReconcile = make(map[string]struct{})

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return needsReconcile
		}

		inst, ok := t.ByPID(pid)
		if !ok {
			// Orphan: either a grandchild we inherited as PID 1, or a
			// pid we already forgot. Discard silently (spec §4.2.1).
			r.log.Debugw("reaped unowned pid", "pid", pid)
			continue
		}

		r.credit(inst, ws)
		t.forgetChild(pid)
		needsReconcile[inst.Service.Name] = struct{}{}
	}
}

func (r *Reaper) credit(inst *Instance, ws unix.WaitStatus) {
	exit := &ExitInfo{At: time.Now()}
	clean := false
	if ws.Exited() {
		exit.Code = ws.ExitStatus()
		clean = exit.Code == 0
	} else if ws.Signaled() {
		exit.Signal = int(ws.Signal())
	}
	inst.LastExit = exit

	wasStopping := inst.State == Stopping
	wasCrash := inst.State == Running || inst.State == Starting

	switch {
	case wasStopping && clean:
		inst.State = Stopped
	case wasStopping:
		// Exiting during its own Stopping grace window, even
		// uncleanly, is treated as a clean stop, not a crash —
		// spec §8 boundary behavior.
		inst.State = Stopped
	case wasCrash:
		inst.State = Failed
	default:
		inst.State = Stopped
	}
	inst.ChildID = 0

	r.log.Infow("reaped child",
		"service", inst.Service.Name, "pid_exit_code", exit.Code,
		"signal", exit.Signal, "resulting_state", inst.State.String())
}
