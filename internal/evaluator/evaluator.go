// Package evaluator runs the review workflow: query a pipeline, bind the
// answer to the reviewer's session, and append the scored evaluation to the log.
package evaluator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/rag-evaluator/internal/evallog"
	"github.com/sells-group/rag-evaluator/internal/model"
	"github.com/sells-group/rag-evaluator/internal/session"
	"github.com/sells-group/rag-evaluator/pkg/pipeline"
)

// InputError reports reviewer input that failed validation. Nothing was sent
// or written.
type InputError struct {
	Err error
}

func (e *InputError) Error() string {
	return e.Err.Error()
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// IsInput reports whether err is an InputError.
func IsInput(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// Service wires the pipeline client to the evaluation log.
type Service struct {
	pipeline pipeline.Client
	store    *evallog.Store
	now      func() time.Time
}

// New creates a Service.
func New(client pipeline.Client, store *evallog.Store) *Service {
	return &Service{
		pipeline: client,
		store:    store,
		now:      time.Now,
	}
}

// RunQuery records the form inputs on sess, validates them and asks the
// selected pipeline. On success the answer is bound to sess; on any failure
// the bound answer and rubric are left as they were.
func (s *Service) RunQuery(ctx context.Context, sess *session.Session, form session.Form) error {
	form.Examiner = model.NormalizeName(form.Examiner)
	sess.Form = form

	q := model.Query{
		Examiner:    form.Examiner,
		Model:       form.Model,
		Text:        form.Query,
		ResultCount: form.ResultCount,
	}
	if err := q.Validate(); err != nil {
		return &InputError{Err: err}
	}

	start := time.Now()
	ans, err := s.pipeline.Ask(ctx, q.Model, q.Text, q.ResultCount)
	if err != nil {
		zap.L().Warn("pipeline query failed",
			zap.String("session", sess.ID),
			zap.String("model", string(q.Model)),
			zap.String("examiner", q.Examiner),
			zap.Error(err),
		)
		return err
	}

	sess.Bind(q, *ans)
	zap.L().Info("pipeline answer bound",
		zap.String("session", sess.ID),
		zap.String("model", string(q.Model)),
		zap.String("examiner", q.Examiner),
		zap.Int("n_results", q.ResultCount),
		zap.Int("document_groups", len(ans.Documents)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Submission is the outcome of a logged evaluation.
type Submission struct {
	Record model.EvaluationRecord
	// Rows is the length of the log after the append.
	Rows int
	// Recovered is set when the stored log could not be read and was
	// replaced, so earlier rows were not kept.
	Recovered bool
}

// Submit stores r on sess, builds the record and appends it to the log. The
// session is reset only after the append succeeds, so a failed submit keeps
// everything the reviewer entered.
func (s *Service) Submit(ctx context.Context, sess *session.Session, r model.Rubric) (Submission, error) {
	if err := sess.SetRubric(r); err != nil {
		return Submission{}, &InputError{Err: err}
	}

	rec, err := sess.Build(s.now())
	if err != nil {
		return Submission{}, &InputError{Err: err}
	}

	snap, err := s.store.Append(ctx, rec)
	if err != nil {
		zap.L().Error("evaluation not logged",
			zap.String("session", sess.ID),
			zap.String("examiner", rec.Examiner),
			zap.Bool("conflict", evallog.IsConflict(err)),
			zap.Bool("corrupt", evallog.IsCorrupt(err)),
			zap.Error(err),
		)
		return Submission{Record: rec}, err
	}

	sess.Reset()
	if snap.Recovered {
		zap.L().Error("evaluation logged over an unreadable log, earlier rows were replaced",
			zap.String("session", sess.ID),
			zap.String("examiner", rec.Examiner),
			zap.String("version", string(snap.Version)),
		)
	} else {
		zap.L().Info("evaluation logged",
			zap.String("session", sess.ID),
			zap.String("examiner", rec.Examiner),
			zap.String("model", string(rec.Model)),
			zap.Int("rows", len(snap.Log)),
		)
	}
	return Submission{Record: rec, Rows: len(snap.Log), Recovered: snap.Recovered}, nil
}

// LogView is the filtered log shown in the viewer.
type LogView struct {
	Filter  evallog.Filter
	Options evallog.FilterOptions
	Rows    evallog.Log
	Total   int
	// Exists is false when no log has been persisted yet.
	Exists bool
	// Recovered is set when a corrupt log was replaced by an empty one.
	Recovered bool
}

// View loads the log and applies f. Filter options come from the full log.
func (s *Service) View(ctx context.Context, f evallog.Filter) (*LogView, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &LogView{
		Filter:    f,
		Options:   evallog.Options(snap.Log),
		Rows:      f.Apply(snap.Log),
		Total:     len(snap.Log),
		Exists:    snap.Exists(),
		Recovered: snap.Recovered,
	}, nil
}

// Export loads the log and encodes the rows matching f.
func (s *Service) Export(ctx context.Context, f evallog.Filter) ([]byte, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return evallog.Export(snap.Log, f)
}
