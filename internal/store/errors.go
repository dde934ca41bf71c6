package store

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt means the store file exists but is not a JSON array of records.
	ErrCorrupt     = errors.New("store file is corrupt")
	ErrDuplicateID = errors.New("duplicate record id")
	ErrNotFound    = errors.New("record not found")
)

// PersistenceError reports a checkpoint that could not be committed. The previous snapshot at
// Path is left untouched.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e == nil || e.Err == nil {
		return "persist store"
	}
	return fmt.Sprintf("persist store %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
