package server

import "errors"

// Sentinel errors for registry and connection operations.
var (
	// ErrDuplicateConn is returned when a connection id is already
	// registered. Ids are ULIDs, so this indicates a programming error.
	ErrDuplicateConn = errors.New("server: duplicate connection id")

	// ErrAlreadyAuthenticated is returned when SetOwner is called on a
	// connection whose owner identity is already bound.
	ErrAlreadyAuthenticated = errors.New("server: connection already authenticated")

	// ErrInvalidOwner is returned when an empty owner identity is supplied
	// during the handshake.
	ErrInvalidOwner = errors.New("server: owner identity must not be empty")

	// ErrConnClosed is returned when an operation is attempted on a closed
	// connection.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrMaxConnsReached is returned when the configured connection limit is
	// hit.
	ErrMaxConnsReached = errors.New("server: max connections reached")
)
