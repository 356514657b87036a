package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a pipeline, stage or template cannot be resolved.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTemplateConfig marks a template that cannot be scheduled (negative offset, missing anchor).
	ErrInvalidTemplateConfig = errors.New("invalid template config")
	// ErrTransientStore marks an I/O failure against the durable store; the caller may retry.
	ErrTransientStore = errors.New("transient store error")
	// ErrInvalidTrigger is returned when an inbound trigger lacks required identifiers.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrTenantMismatch flags an entity whose tenant differs from the operation's tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrTemplateConflict is returned when (pipeline, stage, task_order) is already taken.
	ErrTemplateConflict = errors.New("template task_order already exists for stage")
)

// StoreError wraps a failed store operation so it matches ErrTransientStore.
type StoreError struct {
	Op  string
	Err error
}

// Transient wraps err as a StoreError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransientStore, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransientStore) hold for every StoreError.
func (e *StoreError) Is(target error) bool { return target == ErrTransientStore }

// StageError scopes a failure to the stage being processed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
