// Package server provides the real-time sync server for draft records.
//
// The server package manages WebSocket connections, the command protocol,
// and same-owner broadcast fan-out. It is the integration layer that brings
// together the wire protocol (pkg/protocol) and the draft store (pkg/store).
//
// # Architecture
//
// The runtime consists of several key components:
//
//   - Conn: Per-connection state container with lifecycle state and heartbeat
//   - Registry: Tracks all live connections, indexed by id and by owner
//   - Handler: Decodes commands, enforces lifecycle and ownership, runs them
//   - Broadcaster: Delivers notifications to an owner's other connections
//   - Server: HTTP/WebSocket server with REST endpoints and graceful shutdown
//
// # Connection Lifecycle
//
// A connection moves through three states:
//
//	Connecting -> Authenticated -> Closed
//
// The first command on every connection must be init, carrying the owner's
// userId. Until then the connection may not issue any other command. Once
// authenticated, the connection is indexed by owner so that writes made
// anywhere (another connection, or the REST API) are pushed to it.
//
// Each connection runs two goroutines: a read loop that handles commands in
// arrival order, and a heartbeat loop that pings on an interval. Closing is
// idempotent and always unregisters the connection.
//
// # Command Processing
//
// When a client sends a command:
//  1. The read loop hands the raw frame to the Handler
//  2. The frame is decoded into a typed command
//  3. Lifecycle and ownership rules are checked
//  4. The command executes against the draft store
//  5. The response goes back on the same connection
//  6. For writes, a notification fans out to the owner's other connections
//
// A failed command produces a structured error response on the connection
// that sent it; the connection stays open except for a failed init.
//
// # Example Usage
//
//	st := store.NewMemory()
//	srv := server.New(st, server.DefaultConfig().WithAddr(":3001"))
//	srv.Run()
//
// # Thread Safety
//
// The Registry and every Conn are safe for concurrent use. Lock ordering is
// registry before connection; a connection never calls back into the
// registry while holding its own lock.
package server
