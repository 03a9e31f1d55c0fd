package core

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/minisv/minisv/internal/errs"
	"github.com/minisv/minisv/internal/registry"
)

// doReload is spec §4.6's Reload: re-parses configPath and diffs the
// new registry against the live one by name. A ConfigInvalid parse
// error aborts without mutating anything live (spec §7). Otherwise:
// obsolete services are stopped, added services fall under normal
// reconciliation, and changed services (command/deps/resources) are
// stopped and restarted — including any unchanged service that
// depends on a changed one, per the documented policy of spec §8
// scenario 4.
//
// If a runlevel transition is in flight, the reload is queued and
// applied once Levels.Tick finalizes it (spec §4.4).
func (s *Supervisor) doReload() error {
	if s.levels.InTransition() {
		s.levels.pendingReload = true
		return nil
	}

	f, err := os.Open(s.configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ConfigInvalid, err)
	}
	defer f.Close()

	newReg, err := registry.Load(f)
	if err != nil {
		return err // already wraps errs.ConfigInvalid; live registry untouched
	}

	// Reject a dependency cycle in any runlevel before anything live is
	// touched (spec §7, §8: "ConfigInvalid aborts a load/reload without
	// mutating the live registry"). reconcileCurrent only ever sorts
	// s.levels.Current, which by then would already be running against
	// the swapped-in registry, so the whole config has to be validated
	// up front instead.
	for level := 0; level < MaxRunlevels; level++ {
		if _, err := newReg.ServicesFor(level); err != nil {
			return err
		}
	}

	changed := make(map[string]bool)
	for _, name := range newReg.Names() {
		newSvc, _ := newReg.Get(name)
		oldSvc, existed := s.reg.Get(name)
		if existed && !oldSvc.Equal(newSvc) {
			changed[name] = true
		}
	}
	// Anything depending on a changed service is restarted too (spec
	// §8 scenario 4's documented policy), even if its own fields are
	// unchanged. Repeat to a fixpoint so the cascade reaches transitive
	// dependents regardless of declaration order.
	for {
		grew := false
		for _, name := range newReg.Names() {
			if changed[name] {
				continue
			}
			svc, _ := newReg.Get(name)
			for _, dep := range svc.Dependencies {
				if changed[dep] {
					changed[name] = true
					grew = true
					break
				}
			}
		}
		if !grew {
			break
		}
	}

	now := time.Now()
	newTable := newTable(newReg.Names(), func(name string) *Instance {
		newSvc, _ := newReg.Get(name)
		old, existed := s.table.Get(name)
		if !existed {
			return newInstance(newSvc)
		}
		old.Service = newSvc
		// A reload lifts any Stop(name) hold and any backoff pin.
		old.StopRequested = false
		if old.pinned {
			old.clearPin()
		}
		if changed[name] {
			s.forceRestart[name] = true
			if old.State == Running || old.State == Starting {
				old.State = Stopping
				old.gracePeriodStart = now
				s.adHocGrace[name] = now.Add(s.stopGrace)
				_ = signalGroup(old.ChildID, unix.SIGTERM)
			} else {
				old.clearPin()
			}
		}
		return old
	})

	// Obsolete services: present in the old registry, absent from the
	// new one. Stop them; they are not carried into newTable at all.
	for _, name := range s.reg.Names() {
		if _, stillExists := newReg.Get(name); stillExists {
			continue
		}
		old, ok := s.table.Get(name)
		if !ok {
			continue
		}
		if old.State == Running || old.State == Starting || old.State == Stopping {
			old.State = Stopping
			old.gracePeriodStart = now
			s.adHocGrace[name] = now.Add(s.stopGrace)
			_ = signalGroup(old.ChildID, unix.SIGTERM)
		}
	}

	s.reg = newReg
	s.table = newTable
	s.reconciler = newReconciler(newTable, s.confiner, s.log)

	return s.reconcileCurrent()
}
