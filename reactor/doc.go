// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode readiness notification layer
// under the connection driver. Linux uses epoll(7); other platforms
// report an error at construction.
package reactor
