// SPDX-License-Identifier: MPL-2.0

// Package flock provides cross-process advisory file locks for cache keys.
//
// On Linux the lock is a flock(2) on a zero-byte file. An orphaned lock file is
// harmless: the kernel releases the lock when the descriptor is closed, including when
// the process crashes. Other platforms get ErrUnavailable and callers rely on their
// in-process locking alone.
package flock

import (
	"errors"
	"time"
)

// pollInterval is how often a waiting Acquire retries a non-blocking lock.
const pollInterval = 20 * time.Millisecond

// ErrUnavailable is returned where cross-process locking is not supported.
var ErrUnavailable = errors.New("flock not available on this platform")
