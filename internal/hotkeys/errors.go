package hotkeys

import (
	"errors"
	"fmt"
)

// ErrNoTriggers is returned by Manager.Start with an empty spec list.
var ErrNoTriggers = errors.New("no hotkeys to register")

// SpecError reports which spec of a list failed.
type SpecError struct {
	Index int
	Spec  string
	Err   error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("hotkey %d (%q): %v", e.Index, e.Spec, e.Err)
}

func (e *SpecError) Unwrap() error { return e.Err }

type duplicateError struct {
	first      int
	normalized string
}

func (e *duplicateError) Error() string {
	return fmt.Sprintf("%s is already used by hotkey %d", e.normalized, e.first)
}
