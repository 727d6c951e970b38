// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api holds the contracts and data model shared by every layer
// of the wsloop engine: routing tokens and readiness-interest sets,
// decoded messages and close codes, the structured error taxonomy, the
// Settings record, and the Handler, Stream and codec interfaces that
// connect application code and wire-format collaborators to the
// single-threaded connection driver.
//
// The package is intentionally a leaf: it depends on nothing inside the
// module, so any package may import it without cycles.
package api
