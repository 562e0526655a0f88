// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package flock

import "context"

// Lock is the non-Linux stub. Release is a no-op.
type Lock struct {
	path string
}

// Acquire always fails with ErrUnavailable on this platform.
func Acquire(_ context.Context, path string) (*Lock, error) {
	return nil, ErrUnavailable
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release is a no-op on this platform.
func (l *Lock) Release() error { return nil }
