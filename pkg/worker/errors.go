package worker

import (
	"errors"
	"fmt"
)

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
)

// PanicError carries the value a processor panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	switch v := e.Value.(type) {
	case error:
		return "worker panic: " + v.Error()
	case string:
		return "worker panic: " + v
	default:
		return fmt.Sprintf("worker panic: %T", v)
	}
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
