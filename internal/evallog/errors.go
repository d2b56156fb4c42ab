package evallog

import (
	"errors"
	"fmt"
)

// CorruptError reports a persisted log that exists but cannot be parsed as
// the evaluation log schema.
type CorruptError struct {
	Source string
	Row    int // 1-based sheet row, 0 when the whole blob is unreadable
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("evaluation log %s corrupt at row %d: %v", e.Source, e.Row, e.Err)
	}
	return fmt.Sprintf("evaluation log %s corrupt: %v", e.Source, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// ConflictError reports a persist whose base version no longer matches the
// stored log, meaning another writer persisted in between.
type ConflictError struct {
	Source string
	Base   Version
	Err    error
}

func (e *ConflictError) Error() string {
	base := string(e.Base)
	if e.Base == NoVersion {
		base = "<none>"
	}
	return fmt.Sprintf("evaluation log %s changed since version %s: %v", e.Source, base, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err (or any error in its chain) is a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// IsConflict reports whether err (or any error in its chain) is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
