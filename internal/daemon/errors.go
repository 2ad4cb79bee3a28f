package daemon

import (
	"context"
	"errors"

	"chordkit/internal/dispatch"
	"chordkit/internal/ipc"
	"chordkit/internal/registry"
)

// ErrorCode maps a dispatch error to its stable IPC response code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registry.ErrUnknownAction):
		return ipc.CodeUnknownAction
	case errors.Is(err, dispatch.ErrKeyAlreadyHeld):
		return ipc.CodeKeyAlreadyHeld
	case errors.Is(err, dispatch.ErrInjectionFailure):
		return ipc.CodeInjectionFailure
	case errors.Is(err, dispatch.ErrEngineClosed):
		return ipc.CodeEngineClosed
	case errors.Is(err, dispatch.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ipc.CodeCancelled
	}
	return ipc.CodeInternal
}
