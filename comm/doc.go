// File: comm/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package comm implements the cross-goroutine command plumbing of the
// engine: the Signal vocabulary, the Command envelope, the bounded
// multi-producer queue, and the cloneable Sender handle that is the
// only way application goroutines reach a connection owned by the
// driver.
package comm
