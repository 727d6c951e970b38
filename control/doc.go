// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control carries the operational side of the engine: settings
// loading from file and environment, hot reload of the settings file,
// runtime metrics counters, and debug probes for introspection.
//
// Reloaded settings never touch live connections. The engine snapshots
// settings per connection at creation time, so a reload only shapes
// connections made after it.
package control
