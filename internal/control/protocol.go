// Package control exposes the supervisor's Request/Response protocol
// (internal/core.Request) over a Unix domain socket, so the CLI can run
// as a short-lived client process (spec §6) rather than linking
// against the supervisor directly.
//
// The wire format is encoding/gob: the whole module is a single local
// binary talking to itself across a restart, so there is no cross-
// version or cross-language compatibility to preserve, and gob is the
// stdlib's own answer to exactly that case. A richer RPC framework
// (grpc, as aenix-io-talm uses for its maintenance service) was
// considered and rejected for this socket — see SPEC_FULL.md's DOMAIN
// STACK table — because a single-host control channel with one
// caller at a time has no use for HTTP/2 framing or protobuf schemas.
package control

import (
	"github.com/google/uuid"

	"github.com/minisv/minisv/internal/core"
)

// DefaultSocketPath is where the supervisor listens and the CLI dials
// by default; both are overridable (spec §6's -socket flag).
const DefaultSocketPath = "/run/minisv.sock"

// Envelope wraps a core.Request for the wire: gob cannot encode
// core.Request's Reply channel (channels aren't gob-encodable), so
// the envelope carries only the serializable
// parts and the client correlates replies itself via ID.
type Envelope struct {
	ID    uuid.UUID
	Kind  core.RequestKind
	Name  string
	Level int
}

// ReplyEnvelope is the corresponding wire response.
type ReplyEnvelope struct {
	ID     uuid.UUID
	ErrMsg string // empty means success
	Status core.Status
}
