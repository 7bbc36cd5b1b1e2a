// Package runner provides an interceptor-based command execution framework
// for CLI commands, giving consistent middleware semantics to cobra handlers.
package runner

import "errors"

// Standard errors returned by interceptors
var (
	// ErrNotInitialized is returned when holdfast is not initialized
	ErrNotInitialized = errors.New("holdfast not initialized - run 'holdfast init' first")

	// ErrNoKeystore is returned when the node key material is missing
	ErrNoKeystore = errors.New("no key material found - run 'holdfast init' first")
)
