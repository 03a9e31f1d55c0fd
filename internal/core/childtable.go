package core

// Table is the child table of spec §3/§4.2: a mapping keyed by
// service name (the source of truth for "do we have an instance for
// this service") paired with a pid index used only by the reaper to
// find which instance a wait(2) result belongs to.
//
// This replaces the teacher's array-of-Process-plus-process_count
// (gosv's Supervisor.processes, and before it the C source's global
// `processes[MAX_PROCESSES]` / `process_count`): identity here is by
// key, not by slot, so there is no compaction step and no way for a
// stale index to outlive the instance it pointed to (spec §5 point b).
type Table struct {
	byName map[string]*Instance
	byPID  map[int]*Instance
}

func newTable(names []string, lookup func(string) *Instance) *Table {
	t := &Table{byName: make(map[string]*Instance), byPID: make(map[int]*Instance)}
	for _, n := range names {
		inst := lookup(n)
		t.byName[n] = inst
		// A carried-over instance (reload.go's doReload) may already own
		// a live child; re-index it here so the reaper's ByPID lookup
		// keeps resolving it after the swap. A freshly constructed
		// instance never has a child yet, so this is a no-op for the
		// initial-boot caller (supervisor.go's New, through buildTable).
		if inst != nil && inst.State.hasChild() && inst.ChildID != 0 {
			t.byPID[inst.ChildID] = inst
		}
	}
	return t
}

// Get returns the instance for a service name.
func (t *Table) Get(name string) (*Instance, bool) {
	inst, ok := t.byName[name]
	return inst, ok
}

// ByPID returns the instance currently owning pid, if any (I2: a pid
// present here corresponds to exactly one live instance in a
// non-terminal state).
func (t *Table) ByPID(pid int) (*Instance, bool) {
	inst, ok := t.byPID[pid]
	return inst, ok
}

// setChild records that inst now owns pid (called when a child is
// spawned) and indexes it for the reaper.
func (t *Table) setChild(inst *Instance, pid int) {
	inst.ChildID = pid
	t.byPID[pid] = inst
}

// forgetChild removes pid from the index once its instance has left
// a child-bearing state — after this call, a reap observation for
// that pid is an orphan and is discarded (I3).
func (t *Table) forgetChild(pid int) {
	delete(t.byPID, pid)
}

// All returns every instance in the table, in no particular order.
func (t *Table) All() []*Instance {
	out := make([]*Instance, 0, len(t.byName))
	for _, inst := range t.byName {
		out = append(out, inst)
	}
	return out
}
