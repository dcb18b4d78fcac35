// Package stream holds the per-process registry of open push connections.
//
// A Registry maps each user to at most one Connection. Registering a second
// connection for the same user closes the first one before Register returns.
// Each Connection owns a heartbeat ticker and an idle timer, both bound to a
// single cancellation context, so tearing down a connection is one call.
//
// Handles are transport-agnostic: SSEHandle writes text/event-stream frames,
// WebSocketHandle writes text frames and control pings.
package stream
