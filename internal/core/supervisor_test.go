package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/minisv/minisv/internal/registry"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l.Sugar()
}

func mustLoad(t *testing.T, src string) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(strings.NewReader(src))
	require.NoError(t, err)
	return reg
}

// statusOf synchronously fetches status through the control interface,
// exactly as the CLI's manage status subcommand would.
func statusOf(t *testing.T, s *Supervisor, name string) Status {
	t.Helper()
	reply := make(chan Response, 1)
	s.Submit(Request{Kind: ReqStatus, Name: name, Reply: reply})
	resp := <-reply
	require.NoError(t, resp.Err)
	return resp.Status
}

func waitForState(t *testing.T, s *Supervisor, name string, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if statusOf(t, s, name).State == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("service %s did not reach state %s within %s", name, want, timeout)
}

// TestDependencyOrderedStart covers spec §8 scenario 1: A in {1},
// B in {1} deps=A, C in {2}; booting at runlevel 1 starts A then B,
// and C stays Inactive.
func TestDependencyOrderedStart(t *testing.T) {
	reg := mustLoad(t, "1 A /bin/sh deps=\n1 B /bin/sh deps=A\n2 C /bin/sh\n")
	// Rewrite commands to something that actually runs and exits,
	// using sleep so the instances stay Running long enough to probe.
	for _, name := range []string{"A", "B", "C"} {
		svc, _ := reg.Get(name)
		svc.Command = "/bin/sh"
		svc.Args = []string{"-c", "sleep 5"}
	}

	sup := New(reg, 1, nil, testLogger(t), "", 2*time.Second)
	go sup.Run()

	waitForState(t, sup, "A", Running, 2*time.Second)
	waitForState(t, sup, "B", Running, 2*time.Second)
	assert.Equal(t, Inactive, statusOf(t, sup, "C").State)

	sup.sigChan <- unix.SIGTERM
	time.Sleep(200 * time.Millisecond)
}

// TestSwitchStopsAndStarts covers spec §8 scenario 3: switching from
// runlevel 1 to 2 stops B then A and starts C, with no interval where
// C and A are running together left unobserved by the test (we only
// assert the final state here; stop ordering is not asserted by this
// test).
func TestSwitchStopsAndStarts(t *testing.T) {
	reg := mustLoad(t, "1 A /bin/sh\n1 B /bin/sh deps=A\n2 C /bin/sh\n")
	for _, name := range []string{"A", "B", "C"} {
		svc, _ := reg.Get(name)
		svc.Command = "/bin/sh"
		svc.Args = []string{"-c", "sleep 5"}
	}

	sup := New(reg, 1, nil, testLogger(t), "", 500*time.Millisecond)
	go sup.Run()

	waitForState(t, sup, "B", Running, 2*time.Second)

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqSwitch, Level: 2, Reply: reply})
	require.NoError(t, (<-reply).Err)

	waitForState(t, sup, "C", Running, 3*time.Second)
	assert.Equal(t, Inactive, statusOf(t, sup, "A").State)
	assert.Equal(t, Inactive, statusOf(t, sup, "B").State)

	sup.sigChan <- unix.SIGTERM
	time.Sleep(200 * time.Millisecond)
}

// TestInvalidSwitchRejected covers spec §8 scenario 6.
func TestInvalidSwitchRejected(t *testing.T) {
	reg := mustLoad(t, "0 A /bin/sh\n")
	sup := New(reg, 0, nil, testLogger(t), "", time.Second)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(100 * time.Millisecond) }()

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqSwitch, Level: -1, Reply: reply})
	err := (<-reply).Err
	require.Error(t, err)
	assert.Equal(t, 0, sup.levels.Current)

	reply2 := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqSwitch, Level: MaxRunlevels, Reply: reply2})
	err2 := (<-reply2).Err
	require.Error(t, err2)
	assert.Equal(t, 0, sup.levels.Current)
}

// TestSwitchToCurrentIsNoop covers spec §8's idempotence property.
func TestSwitchToCurrentIsNoop(t *testing.T) {
	reg := mustLoad(t, "0 A /bin/sh\n")
	sup := New(reg, 0, nil, testLogger(t), "", time.Second)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(100 * time.Millisecond) }()

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqSwitch, Level: 0, Reply: reply})
	require.NoError(t, (<-reply).Err)
	assert.False(t, sup.levels.InTransition())
}

// TestDoubleStopIsIdempotent covers spec §8's "two consecutive
// Stop(name) commands are equivalent to one" property.
func TestDoubleStopIsIdempotent(t *testing.T) {
	reg := mustLoad(t, "0 A /bin/sh\n")
	svc, _ := reg.Get("A")
	svc.Args = []string{"-c", "sleep 5"}

	sup := New(reg, 0, nil, testLogger(t), "", 2*time.Second)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(200 * time.Millisecond) }()

	waitForState(t, sup, "A", Running, 2*time.Second)

	reply1 := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqStop, Name: "A", Reply: reply1})
	require.NoError(t, (<-reply1).Err)

	reply2 := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqStop, Name: "A", Reply: reply2})
	require.NoError(t, (<-reply2).Err)

	waitForState(t, sup, "A", Stopped, 2*time.Second)
}

func TestStatusUnknownService(t *testing.T) {
	reg := mustLoad(t, "0 A /bin/sh\n")
	sup := New(reg, 0, nil, testLogger(t), "", time.Second)
	go sup.Run()
	defer func() { sup.sigChan <- unix.SIGTERM; time.Sleep(100 * time.Millisecond) }()

	reply := make(chan Response, 1)
	sup.Submit(Request{Kind: ReqStatus, Name: "ghost", Reply: reply})
	require.Error(t, (<-reply).Err)
}
