// Package registry holds the declared service catalog: parsing the
// configuration grammar of spec §6 into Services, and producing the
// dependency-ordered start list for a given runlevel.
package registry

// Resources is the optional resource envelope applied to a service's
// child right after it is spawned; the limits are not in place before
// its program image is loaded.
type Resources struct {
	MemoryBytes int64
	CPUPercent  int
}

// RestartPolicy governs whether a crashed/exited instance should be
// restarted by the core's reconciliation loop.
type RestartPolicy string

const (
	// RestartAlways restarts whenever the instance is observed to
	// have exited while its runlevel is still active. Default.
	RestartAlways RestartPolicy = "always"
	// RestartNever leaves a stopped/failed instance alone; only an
	// explicit Start or a reload/runlevel change reschedules it.
	RestartNever RestartPolicy = "never"
)

// Service is the immutable declared description of a managed program.
// Two Services are considered unchanged across a reload iff Equal
// reports true for them (see core's doReload).
type Service struct {
	Name          string
	Command       string
	Args          []string
	Runlevels     map[int]struct{}
	Dependencies  []string // ordered as declared; duplicates are kept
	Resources     *Resources
	RestartPolicy RestartPolicy
}

// InRunlevel reports whether the service should be running in level l.
func (s *Service) InRunlevel(l int) bool {
	_, ok := s.Runlevels[l]
	return ok
}

// Equal reports whether two services are identical for reload-diff
// purposes (command, args, dependencies, resources — not runlevels,
// since runlevel membership changes are handled by reconciliation, not
// by a restart).
func (s *Service) Equal(o *Service) bool {
	if s.Command != o.Command || s.RestartPolicy != o.RestartPolicy {
		return false
	}
	if len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	if len(s.Dependencies) != len(o.Dependencies) {
		return false
	}
	for i := range s.Dependencies {
		if s.Dependencies[i] != o.Dependencies[i] {
			return false
		}
	}
	switch {
	case s.Resources == nil && o.Resources == nil:
	case s.Resources == nil || o.Resources == nil:
		return false
	default:
		if *s.Resources != *o.Resources {
			return false
		}
	}
	return true
}
