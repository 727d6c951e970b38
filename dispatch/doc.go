// File: dispatch/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package dispatch runs the engine's single driver goroutine. The
// dispatcher owns every connection outright: it accepts sockets,
// initiates outbound connections, routes readiness from the reactor and
// commands from the queue to the owning connection, schedules timeouts,
// and retires connections whose interest set goes empty. Nothing else
// in the module touches a live connection.
package dispatch
