package core

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/minisv/minisv/internal/confine"
	"github.com/minisv/minisv/internal/errs"
)

// spawn launches the instance's declared command in its own process
// group (so a single signal to -pgid reaches every descendant it
// forks, same as gosv's process.go), applies confinement if the
// service declares a resource envelope, and records the resulting pid
// in the table.
//
// "Successfully running" means only that the image was launched —
// spec §4.3 is explicit that there is no readiness protocol.
func (r *Reconciler) spawn(inst *Instance) error {
	cmd := exec.Command(inst.Service.Command, inst.Service.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.SpawnFailed, inst.Service.Name, err)
	}

	pid := cmd.Process.Pid
	r.table.setChild(inst, pid)

	if inst.Service.Resources != nil && r.confiner != nil {
		env := confine.Envelope{
			MemoryBytes: inst.Service.Resources.MemoryBytes,
			CPUPercent:  inst.Service.Resources.CPUPercent,
		}
		if err := r.confiner.Apply(inst.Service.Name, pid, env); err != nil {
			// ResourceApplyFailed under strict_resources; the child
			// is already running, so attribute the failure to this
			// instance and let it fail out through the normal crash
			// path rather than leaving an untracked process.
			r.log.Errorw("resource confinement failed under strict mode, killing child",
				"service", inst.Service.Name, "error", err)
			_ = signalGroup(pid, unix.SIGKILL)
			return err
		}
	}

	r.log.Infow("started service", "service", inst.Service.Name, "pid", pid)
	return nil
}

// signalGroup sends sig to every process in pid's process group —
// kill(-pgid, sig), mirroring the negative-pid convention gosv's
// process.go uses for graceful/forceful stop.
func signalGroup(pid int, sig unix.Signal) error {
	if pid == 0 {
		return fmt.Errorf("process not running")
	}
	return unix.Kill(-pid, sig)
}
