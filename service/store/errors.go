package store

import (
	"errors"
	"fmt"
)

// ErrStoreUninitialized is returned by every operation issued before Init or after Close.
var ErrStoreUninitialized = errors.New("store not initialized")

// PersistenceError wraps a failure reported by the storage engine.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
