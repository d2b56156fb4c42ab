package evallog

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/rag-evaluator/internal/model"
)

// Store is the evaluation log on top of a Backend. Append is a
// read-modify-write guarded by the version read at load time; nothing is
// retried, so a concurrent writer surfaces as *ConflictError.
type Store struct {
	backend         Backend
	corruptFallback bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCorruptFallback makes Load treat an unreadable log as empty. The
// fallback is logged at error level and flagged on the snapshot.
func WithCorruptFallback(enabled bool) StoreOption {
	return func(s *Store) {
		s.corruptFallback = enabled
	}
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Load returns the persisted log and its version. A log that was never
// persisted loads as empty with NoVersion. A log that exists but cannot be
// parsed fails with *CorruptError unless the corrupt fallback is enabled.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	blob, err := s.backend.Read(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if blob == nil {
		zap.L().Debug("evaluation log not found, starting empty", zap.String("backend", s.backend.Name()))
		return Snapshot{Log: Log{}, Version: NoVersion}, nil
	}

	l, err := Decode(s.backend.Name(), blob.Data)
	if err != nil {
		if !s.corruptFallback || !IsCorrupt(err) {
			return Snapshot{}, err
		}
		zap.L().Error("evaluation log corrupt, continuing with an empty log",
			zap.String("backend", s.backend.Name()),
			zap.String("version", string(blob.Version)),
			zap.Error(err),
		)
		return Snapshot{Log: Log{}, Version: blob.Version, Recovered: true}, nil
	}

	zap.L().Debug("evaluation log loaded",
		zap.String("backend", s.backend.Name()),
		zap.Int("rows", len(l)),
		zap.String("version", string(blob.Version)),
	)
	return Snapshot{Log: l, Version: blob.Version}, nil
}

// Persist writes the whole log if the stored version is still base.
func (s *Store) Persist(ctx context.Context, l Log, base Version, message string) (Version, error) {
	data, err := Encode(l)
	if err != nil {
		return NoVersion, err
	}

	v, err := s.backend.Write(ctx, data, base, message)
	if err != nil {
		if IsConflict(err) {
			zap.L().Warn("evaluation log version conflict",
				zap.String("backend", s.backend.Name()),
				zap.String("base", string(base)),
			)
		}
		return NoVersion, err
	}

	zap.L().Info("evaluation log persisted",
		zap.String("backend", s.backend.Name()),
		zap.Int("rows", len(l)),
		zap.String("version", string(v)),
	)
	return v, nil
}

// Append loads the current log, adds rec and persists the result against
// the loaded version. It returns the snapshot that was written; Recovered is
// set when an unreadable log was replaced under the corrupt fallback.
func (s *Store) Append(ctx context.Context, rec model.EvaluationRecord) (Snapshot, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	next := snap.Log.Append(rec)
	v, err := s.Persist(ctx, next, snap.Version, CommitMessage(rec))
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Log: next, Version: v, Recovered: snap.Recovered}, nil
}

// CommitMessage describes an appended record for backends that keep history.
func CommitMessage(rec model.EvaluationRecord) string {
	return "Add new evaluation by " + rec.Examiner
}
