package core

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/minisv/minisv/internal/errs"
)

// handleRequest dispatches one control-interface call (spec §4.6).
// Every branch observes and, if needed, mutates the live registry and
// child table directly — there is no copying or snapshotting, because
// this function only ever runs from the single core-loop goroutine.
func (s *Supervisor) handleRequest(req Request) {
	switch req.Kind {
	case ReqStart:
		reply(req, Response{Err: s.doStart(req.Name)})
	case ReqStop:
		reply(req, Response{Err: s.doStop(req.Name)})
	case ReqStatus:
		st, err := s.doStatus(req.Name)
		reply(req, Response{Err: err, Status: st})
	case ReqSwitch:
		reply(req, Response{Err: s.doSwitch(req.Level)})
	case ReqReload:
		reply(req, Response{Err: s.doReload()})
	default:
		reply(req, Response{Err: fmt.Errorf("%w: unknown request kind", errs.ControlProtocolError)})
	}
}

// doStart is spec §4.6's Start(name): a no-op if the instance is
// already Running, or already eligible to be picked up by the next
// reconciliation pass. Otherwise it lifts any backoff pin so the next
// reconciliation schedules it immediately.
func (s *Supervisor) doStart(name string) error {
	inst, ok := s.table.Get(name)
	if !ok {
		return unknownService(name)
	}
	if inst.State == Running || inst.State == Starting {
		return nil
	}
	inst.clearPin()
	inst.StopRequested = false
	return s.reconcileCurrent()
}

// doStop is spec §4.6's Stop(name): transitions to Stopping and
// suppresses restart policy until the next reload or runlevel change.
// Two consecutive Stop calls are idempotent (spec §8).
func (s *Supervisor) doStop(name string) error {
	inst, ok := s.table.Get(name)
	if !ok {
		return unknownService(name)
	}
	inst.StopRequested = true
	if inst.State != Running && inst.State != Starting {
		return nil
	}
	now := time.Now()
	inst.State = Stopping
	inst.gracePeriodStart = now
	s.adHocGrace[name] = now.Add(s.stopGrace)
	return signalGroup(inst.ChildID, unix.SIGTERM)
}

func (s *Supervisor) doStatus(name string) (Status, error) {
	inst, ok := s.table.Get(name)
	if !ok {
		return Status{}, unknownService(name)
	}
	return inst.status(), nil
}

// doSwitch is spec §4.6's Switch(level): begins a runlevel
// transition. Switch(current) is defined as a no-op (spec §8).
func (s *Supervisor) doSwitch(level int) error {
	toStop, err := s.levels.BeginSwitch(s.reg, s.table, level)
	if err != nil {
		return err
	}
	for _, inst := range toStop {
		s.log.Infow("sending terminate signal", "service", inst.Service.Name)
		_ = signalGroup(inst.ChildID, unix.SIGTERM)
	}
	return nil
}
