package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNotQueued is returned when a transition or deletion requires a queued task
	ErrNotQueued = errors.New("task is not queued")
	// ErrNotInProgress is returned when finishing a task that was never dispatched
	ErrNotInProgress = errors.New("task is not in progress")
	// ErrAlreadyInProgress is returned when another task already holds the execution slot
	ErrAlreadyInProgress = errors.New("another task is already in progress")
)

// ValidationError is returned for bad enqueue input. Nothing is written to the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError is returned when a store write or read fails
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TaskNotFoundError is returned when a task ID does not exist
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
