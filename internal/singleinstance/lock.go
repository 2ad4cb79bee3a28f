// Package singleinstance keeps a second chordd from driving the same
// keyboard concurrently.
package singleinstance

import "errors"

// ErrAlreadyRunning is returned by TryLock when another process holds the
// lock.
var ErrAlreadyRunning = errors.New("another instance is already running")
