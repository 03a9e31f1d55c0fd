package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBasic(t *testing.T) {
	src := `
# comment
1 A /bin/a
1 B /bin/b deps=A mem=1048576 cpu=50
2 C /bin/c
`
	reg, err := Load(strings.NewReader(src))
	require.NoError(t, err)

	a, ok := reg.Get("A")
	require.True(t, ok)
	assert.Equal(t, "/bin/a", a.Command)

	b, ok := reg.Get("B")
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, b.Dependencies)
	require.NotNil(t, b.Resources)
	assert.Equal(t, int64(1048576), b.Resources.MemoryBytes)
	assert.Equal(t, 50, b.Resources.CPUPercent)
}

func TestLoadDuplicateName(t *testing.T) {
	src := "1 A /bin/a\n1 A /bin/b\n"
	_, err := Load(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadUnknownDependency(t *testing.T) {
	src := "1 A /bin/a deps=ghost\n"
	_, err := Load(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared")
}

func TestLoadQuotedCommand(t *testing.T) {
	src := `1 A "/bin/sh -c echo hi"` + "\n"
	reg, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	a, _ := reg.Get("A")
	assert.Equal(t, "/bin/sh", a.Command)
	assert.Equal(t, []string{"-c", "echo", "hi"}, a.Args)
}

func TestServicesForOrdering(t *testing.T) {
	// Scenario 1 from spec §8: A in {1}, B in {1} deps=A, C in {2}.
	src := "1 A /bin/a\n1 B /bin/b deps=A\n2 C /bin/c\n"
	reg, err := Load(strings.NewReader(src))
	require.NoError(t, err)

	lvl1, err := reg.ServicesFor(1)
	require.NoError(t, err)
	require.Len(t, lvl1, 2)
	assert.Equal(t, "A", lvl1[0].Name)
	assert.Equal(t, "B", lvl1[1].Name)

	lvl2, err := reg.ServicesFor(2)
	require.NoError(t, err)
	require.Len(t, lvl2, 1)
	assert.Equal(t, "C", lvl2[0].Name)
}

func TestServicesForCycle(t *testing.T) {
	src := "1 A /bin/a deps=B\n1 B /bin/b deps=A\n"
	reg, err := Load(strings.NewReader(src))
	require.NoError(t, err)

	_, err = reg.ServicesFor(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestServicesForStableNameOrder(t *testing.T) {
	src := "1 C /bin/c\n1 A /bin/a\n1 B /bin/b\n"
	reg, err := Load(strings.NewReader(src))
	require.NoError(t, err)

	lvl1, err := reg.ServicesFor(1)
	require.NoError(t, err)
	require.Len(t, lvl1, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{lvl1[0].Name, lvl1[1].Name, lvl1[2].Name})
}
