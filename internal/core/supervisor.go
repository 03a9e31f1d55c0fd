package core

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/minisv/minisv/internal/confine"
	"github.com/minisv/minisv/internal/errs"
	"github.com/minisv/minisv/internal/registry"
)

// tickInterval drives the periodic check for expired backoff gates,
// expired stop-grace windows, and (via reload) configuration changes
// — the only clock the core needs, per spec §5.
const tickInterval = 100 * time.Millisecond

// Supervisor owns the Service Registry and Child Table exclusively
// (spec §3 "Ownership"); every field below is mutated only inside
// Run's select loop, which is the single logical thread spec §5
// requires.
type Supervisor struct {
	reg        *registry.Registry
	table      *Table
	reconciler *Reconciler
	levels     *Levels
	reaper     *Reaper
	confiner   *confine.Applier
	log        *zap.SugaredLogger
	configPath string
	stopGrace  time.Duration

	sigChan  chan os.Signal
	requests chan Request

	// adHocGrace tracks per-instance stop-grace deadlines for Stop(name)
	// calls and Reload-driven restarts/removals, which happen outside a
	// full runlevel transition and so aren't covered by Levels.Tick.
	adHocGrace map[string]time.Time
	// forceRestart marks instances whose command/deps/resources just
	// changed under Reload: once reaped, they restart immediately
	// rather than through the crash-backoff gate (spec §8 scenario 4).
	forceRestart map[string]bool

	shuttingDown bool
	done         chan struct{}
}

// New builds a Supervisor over reg, starting in initialLevel. confiner
// may be nil to disable resource confinement entirely.
func New(reg *registry.Registry, initialLevel int, confiner *confine.Applier, log *zap.SugaredLogger, configPath string, stopGrace time.Duration) *Supervisor {
	table := buildTable(reg, nil)
	return &Supervisor{
		reg:          reg,
		table:        table,
		reconciler:   newReconciler(table, confiner, log),
		levels:       NewLevels(initialLevel, stopGrace),
		reaper:       newReaper(log),
		confiner:     confiner,
		log:          log,
		configPath:   configPath,
		stopGrace:    stopGrace,
		sigChan:      make(chan os.Signal, 32),
		requests:     make(chan Request, 32),
		adHocGrace:   make(map[string]time.Time),
		forceRestart: make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// buildTable constructs a fresh Table over every service in reg. When
// prior is non-nil, any instance prior holds under the same name is
// carried over as is.
func buildTable(reg *registry.Registry, prior *Table) *Table {
	return newTable(reg.Names(), func(name string) *Instance {
		svc, _ := reg.Get(name)
		if prior != nil {
			if old, ok := prior.Get(name); ok {
				return old
			}
		}
		return newInstance(svc)
	})
}

// Submit enqueues a control request for processing on the core loop.
// Safe to call from any goroutine (e.g. the control socket's accept
// loop) — this channel send is the only cross-goroutine boundary in
// the supervisor.
func (s *Supervisor) Submit(req Request) {
	s.requests <- req
}

// Run installs signal handlers, starts every instance declared for
// the initial runlevel, and drives the event loop until a terminate
// request causes a graceful shutdown.
func (s *Supervisor) Run() error {
	signal.Notify(s.sigChan, unix.SIGCHLD, unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGUSR2)

	if err := s.reconcileCurrent(); err != nil {
		return err
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.log.Infow("supervisor running", "runlevel", s.levels.Current)

	for {
		select {
		case sig := <-s.sigChan:
			s.handleSignal(sig)
			if s.shuttingDown {
				// Reject the requests that queued up during shutdown.
				for len(s.requests) > 0 {
					reply(<-s.requests, Response{Err: fmt.Errorf("%w: shutting down", errs.ControlProtocolError)})
				}
				return nil
			}

		case req := <-s.requests:
			if s.shuttingDown {
				reply(req, Response{Err: fmt.Errorf("%w: shutting down", errs.ControlProtocolError)})
				continue
			}
			s.handleRequest(req)

		case <-ticker.C:
			s.handleTick(time.Now())

		case <-s.done:
			return nil
		}
	}
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case unix.SIGCHLD:
		s.handleReap()
	case unix.SIGTERM, unix.SIGINT:
		s.gracefulShutdown()
	case unix.SIGHUP:
		if err := s.doReload(); err != nil {
			s.log.Errorw("reload failed", "error", err)
		}
	case unix.SIGUSR2:
		s.handleSignalSwitch()
	}
}

// handleSignalSwitch implements spec §6's "implementation-chosen user
// signal for switch": the target level is read from MINISV_LEVEL_FILE
// (default /run/minisv.level), which whoever sends the signal must
// write first, since a bare signal carries no argument. The CLI's
// switch subcommand does not use this path; it sends a Switch request
// over the control socket.
func (s *Supervisor) handleSignalSwitch() {
	path := os.Getenv("MINISV_LEVEL_FILE")
	if path == "" {
		path = "/run/minisv.level"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warnw("SIGUSR2 received but level file unreadable", "path", path, "error", err)
		return
	}
	var level int
	if _, err := fmt.Sscanf(string(data), "%d", &level); err != nil {
		s.log.Warnw("SIGUSR2 level file malformed", "path", path, "error", err)
		return
	}
	if err := s.doSwitch(level); err != nil {
		s.log.Warnw("switch via signal rejected", "level", level, "error", err)
	}
}

func (s *Supervisor) handleReap() {
	reconcileNames := s.reaper.Drain(s.table)
	now := time.Now()
	for name := range reconcileNames {
		inst, ok := s.table.Get(name)
		if !ok {
			continue
		}
		delete(s.adHocGrace, name)
		if s.forceRestart[name] {
			delete(s.forceRestart, name)
			inst.clearPin()
			inst.StopRequested = false
			continue
		}
		s.reconciler.afterReap(inst, now)
	}
	if err := s.reconcileCurrent(); err != nil {
		s.log.Errorw("reconcile after reap failed", "error", err)
	}
}

func (s *Supervisor) handleTick(now time.Time) {
	// Force-kill anything past its ad-hoc stop grace (Stop(name),
	// Reload removals/restarts outside a full runlevel transition).
	for name, deadline := range s.adHocGrace {
		if now.Before(deadline) {
			continue
		}
		if inst, ok := s.table.Get(name); ok && inst.State == Stopping {
			s.log.Warnw("stop grace expired, force killing", "service", name)
			_ = signalGroup(inst.ChildID, unix.SIGKILL)
		}
		delete(s.adHocGrace, name)
	}

	if s.levels.InTransition() {
		finalized, toKill := s.levels.Tick(now)
		for _, inst := range toKill {
			s.log.Warnw("runlevel transition stop grace expired, force killing", "service", inst.Service.Name)
			_ = signalGroup(inst.ChildID, unix.SIGKILL)
		}
		if finalized {
			s.log.Infow("runlevel transition complete", "runlevel", s.levels.Current)
			// A runlevel change lifts every Stop(name) hold.
			for _, inst := range s.table.All() {
				inst.StopRequested = false
			}
			if s.confiner != nil {
				for _, inst := range s.table.All() {
					if !inst.Service.InRunlevel(s.levels.Current) {
						s.confiner.Release(inst.Service.Name)
					}
				}
			}
			if err := s.reconcileCurrent(); err != nil {
				s.log.Errorw("reconcile after transition failed", "error", err)
			}
			if s.pendingReloadAfterTransition() {
				if err := s.doReload(); err != nil {
					s.log.Errorw("queued reload failed", "error", err)
				}
			}
		}
		return
	}

	if err := s.reconcileCurrent(); err != nil {
		s.log.Errorw("periodic reconcile failed", "error", err)
	}
}

func (s *Supervisor) pendingReloadAfterTransition() bool {
	if s.levels.pendingReload {
		s.levels.pendingReload = false
		return true
	}
	return false
}

func (s *Supervisor) reconcileCurrent() error {
	// Nothing is started while a runlevel transition is in flight; the
	// pass that follows Levels.Tick finalizing it starts the new set.
	if s.levels.InTransition() {
		return nil
	}
	services, err := s.reg.ServicesFor(s.levels.Current)
	if err != nil {
		return err
	}
	s.reconciler.Reconcile(services, time.Now())
	return nil
}
