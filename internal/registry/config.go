package registry

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/minisv/minisv/internal/errs"
)

// Registry is the in-memory catalog of declared services, keyed by
// name. It is built once by Load and never mutated afterward — reload
// builds a fresh Registry and the core diffs old against new.
type Registry struct {
	byName map[string]*Service
	order  []string // declaration order, for stable iteration in tests/dumps
}

// Load parses the configuration grammar of spec §6:
//
//	<runlevel:int> <name:token> <command:path> [deps=a,b,c] [mem=<bytes>] [cpu=<percent>]
//
// `#` starts a comment, blank lines are ignored. Load is pure: on any
// error it returns errs.ConfigInvalid and leaves no partial state for
// the caller to observe. Duplicate names and references to undeclared
// dependencies both fail the whole load, before any service starts.
func Load(r io.Reader) (*Registry, error) {
	reg := &Registry{byName: make(map[string]*Service)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		svc, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", lineNo, errs.ConfigInvalid, err)
		}

		if _, dup := reg.byName[svc.Name]; dup {
			return nil, fmt.Errorf("line %d: %w: duplicate service name %q", lineNo, errs.ConfigInvalid, svc.Name)
		}
		reg.byName[svc.Name] = svc
		reg.order = append(reg.order, svc.Name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ConfigInvalid, err)
	}

	for _, svc := range reg.byName {
		for _, dep := range svc.Dependencies {
			if _, ok := reg.byName[dep]; !ok {
				return nil, fmt.Errorf("%w: service %q depends on undeclared service %q", errs.ConfigInvalid, svc.Name, dep)
			}
		}
	}

	return reg, nil
}

// parseLine tokenizes one configuration line without mutating or
// retaining the input buffer — unlike the C source's strtok(strdup(...))
// which leaked the duplicated line on every call, tokenize here returns
// a fresh, scoped slice of substrings.
func parseLine(line string) (*Service, error) {
	fields := tokenize(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("expected at least runlevel, name, command, got %d fields", len(fields))
	}

	level, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("runlevel %q is not an integer: %w", fields[0], err)
	}

	name := fields[1]
	if !validName(name) {
		return nil, fmt.Errorf("invalid service name %q", name)
	}

	cmdParts := strings.Fields(fields[2])
	if len(cmdParts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	svc := &Service{
		Name:          name,
		Command:       cmdParts[0],
		Args:          cmdParts[1:],
		Runlevels:     map[int]struct{}{level: {}},
		RestartPolicy: RestartAlways,
	}

	for _, kv := range fields[3:] {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("malformed keyword field %q, expected key=value", kv)
		}
		switch key {
		case "deps":
			if val != "" {
				svc.Dependencies = strings.Split(val, ",")
			}
		case "mem":
			bytes, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("mem=%q is not an integer: %w", val, err)
			}
			svc.ensureResources().MemoryBytes = bytes
		case "cpu":
			pct, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("cpu=%q is not an integer: %w", val, err)
			}
			svc.ensureResources().CPUPercent = pct
		default:
			return nil, fmt.Errorf("unknown keyword field %q", key)
		}
	}

	return svc, nil
}

func (s *Service) ensureResources() *Resources {
	if s.Resources == nil {
		s.Resources = &Resources{}
	}
	return s.Resources
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// tokenize splits a line on whitespace, honoring double quotes so a
// quoted command field may contain spaces. It is non-destructive: the
// input string is never written to, and every returned token is a
// freshly built string.
func tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasCur := false

	flush := func() {
		if hasCur {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasCur = false
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasCur = true
		case r == ' ' || r == '\t':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				flush()
			}
		default:
			cur.WriteRune(r)
			hasCur = true
		}
	}
	flush()
	return tokens
}

// Get returns the service declared under name, if any.
func (r *Registry) Get(name string) (*Service, bool) {
	svc, ok := r.byName[name]
	return svc, ok
}

// Names returns every declared service name in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ServicesFor returns the services that belong to runlevel l,
// topologically sorted by Dependencies so that every service appears
// after all of its dependencies, with ties broken by stable name order.
// A dependency cycle is reported as errs.ConfigInvalid.
func (r *Registry) ServicesFor(level int) ([]*Service, error) {
	var members []string
	for _, name := range r.order {
		if r.byName[name].InRunlevel(level) {
			members = append(members, name)
		}
	}
	return r.topoSort(members)
}

// topoSort orders the named services (which must all exist in r) so
// dependencies precede dependents, using Kahn's algorithm with a
// sorted-name frontier for deterministic tie-breaking.
func (r *Registry) topoSort(names []string) ([]*Service, error) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, n := range names {
		indegree[n] = 0
	}
	for _, n := range names {
		for _, dep := range r.byName[n].Dependencies {
			if _, inSet := set[dep]; !inSet {
				// Dependency isn't scheduled for this runlevel; it is
				// satisfied elsewhere (or not at all) and does not
				// constrain ordering within this level.
				continue
			}
			indegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var frontier []string
	for _, n := range names {
		if indegree[n] == 0 {
			frontier = append(frontier, n)
		}
	}
	sort.Strings(frontier)

	var order []string
	for len(frontier) > 0 {
		sort.Strings(frontier)
		n := frontier[0]
		frontier = frontier[1:]
		order = append(order, n)

		next := append([]string(nil), dependents[n]...)
		sort.Strings(next)
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				frontier = append(frontier, d)
			}
		}
	}

	if len(order) != len(names) {
		return nil, fmt.Errorf("%w: dependency cycle detected among services", errs.ConfigInvalid)
	}

	out := make([]*Service, len(order))
	for i, n := range order {
		out[i] = r.byName[n]
	}
	return out, nil
}
