// Package evallog persists the append-only evaluation log as a single-sheet
// spreadsheet on a local file or a remote versioned store, and provides the
// filtered view and export used by the log viewer.
package evallog

import (
	"github.com/sells-group/rag-evaluator/internal/model"
)

// Log is the insertion-ordered sequence of evaluation records.
type Log []model.EvaluationRecord

// Append returns a new Log with rec added at the end. The receiver is not modified.
func (l Log) Append(rec model.EvaluationRecord) Log {
	out := make(Log, len(l), len(l)+1)
	copy(out, l)
	return append(out, rec)
}

// Version identifies the exact persisted state a reader observed: a content
// hash, blob SHA or ETag depending on the backend.
type Version string

// NoVersion is the version of a log that has never been persisted. Persisting
// against NoVersion succeeds only while nothing is stored yet.
const NoVersion Version = ""

// Snapshot is a loaded log together with the version it was read at.
type Snapshot struct {
	Log     Log
	Version Version
	// Recovered is set when a corrupt log was replaced by an empty one
	// because the corrupt fallback is enabled.
	Recovered bool
}

// Exists reports whether the snapshot was read from persisted state.
func (s Snapshot) Exists() bool {
	return s.Version != NoVersion
}
