package evallog

import (
	"context"
)

// Blob is the raw persisted log and the version it was read at.
type Blob struct {
	Data    []byte
	Version Version
}

// Backend stores the encoded log on a single medium.
type Backend interface {
	// Name identifies the backend and target in logs and errors.
	Name() string
	// Read returns the stored blob, or nil when nothing has been persisted yet.
	Read(ctx context.Context) (*Blob, error)
	// Write replaces the stored blob only if it is still at base. base is
	// always checked: NoVersion requires that nothing is stored. A mismatch
	// fails with *ConflictError and leaves the stored blob untouched.
	Write(ctx context.Context, data []byte, base Version, message string) (Version, error)
}
