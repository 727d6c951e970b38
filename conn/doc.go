// File: conn/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package conn implements the per-connection protocol state machine and
// its buffered, backpressure-aware I/O path: the WebSocket lifecycle
// from handshake through the two-sided close, cursor buffers with a
// bounded growth policy, TLS-negotiation interleaving, and the
// fatal-vs-recoverable error funnel.
//
// A Connection is owned by exactly one goroutine, the dispatcher's
// driver loop. Nothing in this package synchronizes; the single-writer
// rule is the synchronization.
package conn
