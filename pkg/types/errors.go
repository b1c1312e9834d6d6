package types

import "errors"

// Error taxonomy. Request-scoped errors are converted to a failure result and
// returned to the immediate caller; connection-scoped errors terminate only
// the affected session.
var (
	// ErrProtocol marks a malformed frame or undecodable payload. Fatal to
	// the connection that produced it.
	ErrProtocol = errors.New("protocol error")

	// ErrMissingName marks a table transmitted without name metadata. The
	// table is dropped and the request continues.
	ErrMissingName = errors.New("table has no name metadata")

	// ErrAssembly marks a request whose tables cannot be assembled into a
	// well-formed LP problem. Fatal to the request, not the connection.
	ErrAssembly = errors.New("assembly error")

	// ErrSolver marks a failure reported by the external solver. Same
	// handling as ErrAssembly.
	ErrSolver = errors.New("solver error")

	// ErrAuth marks a missing or invalid credential on an action that
	// requires authentication.
	ErrAuth = errors.New("unauthenticated")

	// ErrConflict marks a persist with overwrite=false on an existing schema.
	ErrConflict = errors.New("schema already exists")

	// ErrNotFound marks an unknown schema or dataset key.
	ErrNotFound = errors.New("not found")

	// ErrUnimplemented marks an action that is routable but not implemented.
	ErrUnimplemented = errors.New("not implemented")
)
