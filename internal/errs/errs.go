// Package errs defines the supervisor's error taxonomy so callers can
// branch on failure class with errors.Is / errors.As instead of string
// matching, the way init_main_v3.c's perror()/log_message() pairs never
// let a caller do.
package errs

import "errors"

// Sentinel classes. Wrap one of these with fmt.Errorf("...: %w", Class)
// to attach detail while keeping errors.Is(err, errs.ConfigInvalid) etc. working.
var (
	// ConfigInvalid covers parse and semantic failures in the
	// registry's configuration grammar: duplicate names, unknown
	// dependencies, dependency cycles.
	ConfigInvalid = errors.New("config invalid")

	// SpawnFailed covers fork/exec failure for a service's command.
	SpawnFailed = errors.New("spawn failed")

	// ResourceApplyFailed covers confinement (cgroup) application
	// failure for an already-spawned child.
	ResourceApplyFailed = errors.New("resource apply failed")

	// UnknownService is returned by control operations that name a
	// service absent from the registry.
	UnknownService = errors.New("unknown service")

	// InvalidRunlevel is returned by Switch when the target level is
	// out of [0, MaxRunlevels). Switching to the current level is a
	// no-op, not this error.
	InvalidRunlevel = errors.New("invalid runlevel")

	// ControlProtocolError covers malformed or undecodable control
	// requests arriving on the control socket.
	ControlProtocolError = errors.New("control protocol error")

	// Transient marks a failure the caller may retry within the
	// existing backoff envelope rather than treat as terminal.
	Transient = errors.New("transient failure")
)
