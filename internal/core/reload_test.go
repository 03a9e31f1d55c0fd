package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

// TestReloadRestartsChangedService covers spec §8 scenario 4: editing a
// running service's command and reloading stops and restarts it
// without touching an unrelated, unchanged service.
func TestReloadRestartsChangedService(t *testing.T) {
	cfgPath := writeConfig(t, "0 A \"/bin/sleep 5\"\n0 B \"/bin/sleep 5\"\n")

	reg := mustLoad(t, "0 A \"/bin/sleep 5\"\n0 B \"/bin/sleep 5\"\n")
	sup := New(reg, 0, nil, testLogger(t), cfgPath, 500*time.Millisecond)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(300 * time.Millisecond) }()

	waitForState(t, sup, "A", Running, 2*time.Second)
	waitForState(t, sup, "B", Running, 2*time.Second)
	bBeforeReload := statusOf(t, sup, "B").ChildID

	// Rewrite A's command so the reload sees a real change; B is
	// byte-identical across the edit.
	require.NoError(t, os.WriteFile(cfgPath, []byte("0 A \"/bin/sleep 1\"\n0 B \"/bin/sleep 5\"\n"), 0644))

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqReload, Reply: reply})
	require.NoError(t, (<-reply).Err)

	time.Sleep(100 * time.Millisecond)
	bAfterReload := statusOf(t, sup, "B").ChildID
	assert.Equal(t, bBeforeReload, bAfterReload)
}

// TestReloadDropsObsoleteService covers the "service removed from
// config" half of spec §4.6's Reload.
func TestReloadDropsObsoleteService(t *testing.T) {
	cfgPath := writeConfig(t, "0 A \"/bin/sleep 5\"\n")

	reg := mustLoad(t, "0 A \"/bin/sleep 5\"\n0 B \"/bin/sleep 5\"\n")
	sup := New(reg, 0, nil, testLogger(t), cfgPath, 500*time.Millisecond)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(300 * time.Millisecond) }()

	waitForState(t, sup, "B", Running, 2*time.Second)

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqReload, Reply: reply})
	require.NoError(t, (<-reply).Err)

	reply2 := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqStatus, Name: "B", Reply: reply2})
	require.Error(t, (<-reply2).Err)
}

// TestReloadRejectsInvalidConfig covers spec §7: a reload that fails to
// parse leaves the live registry untouched.
func TestReloadRejectsInvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, "not a valid line at all because no runlevel\n")

	reg := mustLoad(t, "0 A \"/bin/sleep 5\"\n")
	sup := New(reg, 0, nil, testLogger(t), cfgPath, 500*time.Millisecond)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(300 * time.Millisecond) }()

	waitForState(t, sup, "A", Running, 2*time.Second)

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqReload, Reply: reply})
	require.Error(t, (<-reply).Err)

	// A is still running under the old, valid registry.
	assert.Equal(t, Running, statusOf(t, sup, "A").State)
}

// TestReloadRejectsDependencyCycle covers spec §7/§8's boundary case: a
// cycle anywhere in the new config is ConfigInvalid, and the live
// registry/table must not be swapped in before that check runs.
func TestReloadRejectsDependencyCycle(t *testing.T) {
	cfgPath := writeConfig(t, "0 A \"/bin/sleep 1\" deps=B\n0 B \"/bin/sleep 1\" deps=A\n")

	reg := mustLoad(t, "0 A \"/bin/sleep 5\"\n")
	sup := New(reg, 0, nil, testLogger(t), cfgPath, 500*time.Millisecond)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(300 * time.Millisecond) }()

	waitForState(t, sup, "A", Running, 2*time.Second)

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqReload, Reply: reply})
	require.Error(t, (<-reply).Err)

	// The old, cycle-free, single-service registry is still live: "B"
	// was never a known service and the rejected reload must not have
	// introduced it.
	reply2 := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqStatus, Name: "B", Reply: reply2})
	require.Error(t, (<-reply2).Err)
	assert.Equal(t, Running, statusOf(t, sup, "A").State)
}

// TestReloadKeepsReapingAfterNoopReload covers the child-table
// regression where a reload's newTable swap dropped the byPID index
// for carried-over running instances: after a no-op reload, stopping a
// still-running service must still be observed as a clean reap rather
// than getting stuck because its exit looks like an orphan.
func TestReloadKeepsReapingAfterNoopReload(t *testing.T) {
	cfgPath := writeConfig(t, "0 A \"/bin/sleep 5\"\n")

	reg := mustLoad(t, "0 A \"/bin/sleep 5\"\n")
	sup := New(reg, 0, nil, testLogger(t), cfgPath, 2*time.Second)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(300 * time.Millisecond) }()

	waitForState(t, sup, "A", Running, 2*time.Second)
	pidBeforeReload := statusOf(t, sup, "A").ChildID

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqReload, Reply: reply})
	require.NoError(t, (<-reply).Err)

	// The reload is a no-op for A: same pid, still Running, child table
	// rebuilt underneath it.
	statusAfterReload := statusOf(t, sup, "A")
	assert.Equal(t, Running, statusAfterReload.State)
	assert.Equal(t, pidBeforeReload, statusAfterReload.ChildID)

	stopReply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqStop, Name: "A", Reply: stopReply})
	require.NoError(t, (<-stopReply).Err)

	// If byPID wasn't re-indexed by the reload, A's exit is reaped as an
	// orphan and the instance never leaves Stopping.
	waitForState(t, sup, "A", Stopped, 2*time.Second)
}
