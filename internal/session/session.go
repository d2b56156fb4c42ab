// Package session holds the per-reviewer state of the evaluation form.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rag-evaluator/internal/model"
)

// ErrNoAnswer is returned when an evaluation is built before any pipeline
// answer has been bound to the session.
var ErrNoAnswer = eris.New("session: no pipeline answer bound")

// Form holds the sidebar inputs. They survive Reset so the reviewer does not
// retype them between evaluations.
type Form struct {
	Examiner    string
	Model       model.Pipeline
	ResultCount int
	Query       string
}

// Session is one reviewer's transient state. Callers hold the embedded mutex
// for the duration of a request that reads or mutates it.
type Session struct {
	sync.Mutex

	ID       string
	Form     Form
	LastSeen time.Time

	query  model.Query
	answer *model.Answer
	rubric model.Rubric
}

// New returns a session with default form values and no bound answer.
func New(id string) *Session {
	return &Session{
		ID: id,
		Form: Form{
			Model:       model.PipelineA,
			ResultCount: model.DefaultResultCount,
		},
		rubric: model.DefaultRubric(),
	}
}

// Bind attaches a successful pipeline answer and the query that produced it,
// and starts a fresh rubric at the default scores.
func (s *Session) Bind(q model.Query, ans model.Answer) {
	s.query = q
	s.answer = &ans
	s.rubric = model.DefaultRubric()
}

// HasAnswer reports whether a pipeline answer is bound.
func (s *Session) HasAnswer() bool {
	return s.answer != nil
}

// Query returns the bound query.
func (s *Session) Query() model.Query {
	return s.query
}

// Answer returns the bound answer, or nil.
func (s *Session) Answer() *model.Answer {
	return s.answer
}

// Rubric returns the in-progress rubric.
func (s *Session) Rubric() model.Rubric {
	return s.rubric
}

// SetRubric replaces the in-progress rubric after range-checking it.
func (s *Session) SetRubric(r model.Rubric) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.rubric = r
	return nil
}

// Build assembles the evaluation record from the bound state.
func (s *Session) Build(at time.Time) (model.EvaluationRecord, error) {
	if s.answer == nil {
		return model.EvaluationRecord{}, ErrNoAnswer
	}
	return model.Build(at, s.query, *s.answer, s.rubric), nil
}

// Reset clears the bound query, its answer and the rubric. Form inputs are kept.
func (s *Session) Reset() {
	s.query = model.Query{}
	s.answer = nil
	s.rubric = model.DefaultRubric()
}

// Manager keeps sessions in memory keyed by id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time
}

// NewManager creates a Manager. Sessions idle longer than idleTTL are dropped
// when new sessions are created; zero keeps sessions forever.
func NewManager(idleTTL time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Get returns the session for id, creating a new one when id is empty or
// unknown. The second result reports whether a session was created.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if s, ok := m.sessions[id]; ok && id != "" {
		s.LastSeen = now
		return s, false
	}

	m.expireLocked(now)
	s := New(uuid.NewString())
	s.LastSeen = now
	m.sessions[s.ID] = s
	return s, true
}

// Discard removes the session for id. The next Get starts from scratch.
func (m *Manager) Discard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expireLocked(now time.Time) {
	if m.idleTTL <= 0 {
		return
	}
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.idleTTL {
			delete(m.sessions, id)
		}
	}
}
