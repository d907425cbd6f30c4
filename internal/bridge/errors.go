package bridge

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by Sleep when the underlying scheduler was
// already shut down at the time of the call.
var ErrShutdown = errors.New("bridge: scheduler is shut down")

// PanicError wraps a panic recovered out of a task body. It is what the
// configured ErrorHandler receives; the consumer loop and the scope tree
// stay alive.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panic: %v", e.Value)
}
