package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rag-evaluator/internal/model"
)

func boundSession(t *testing.T) *Session {
	t.Helper()
	s := New("s1")
	s.Bind(
		model.Query{Examiner: "Alice", Model: model.PipelineA, Text: "What is AMR?", ResultCount: 3},
		model.Answer{Summary: "sum", Documents: [][]string{{"a"}, {"b"}}},
	)
	return s
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := New("abc")
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, model.PipelineA, s.Form.Model)
	assert.Equal(t, 5, s.Form.ResultCount)
	assert.False(t, s.HasAnswer())
	assert.Nil(t, s.Answer())
	assert.Equal(t, model.DefaultRubric(), s.Rubric())
}

func TestBuild_RequiresAnswer(t *testing.T) {
	t.Parallel()

	_, err := New("x").Build(time.Now())
	assert.ErrorIs(t, err, ErrNoAnswer)
}

func TestBuild_FromBoundState(t *testing.T) {
	t.Parallel()

	s := boundSession(t)
	r := model.DefaultRubric()
	r.Relevance = 7
	r.GeneralComment = "fine"
	require.NoError(t, s.SetRubric(r))

	rec, err := s.Build(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Alice", rec.Examiner)
	assert.Equal(t, model.PipelineA, rec.Model)
	assert.Equal(t, 3, rec.ResultCount)
	assert.Equal(t, "a\nb", rec.Documents)
	assert.Equal(t, 7, rec.Relevance)
	assert.Equal(t, 5, rec.FactualAccuracy)
	assert.Equal(t, "fine", rec.GeneralComment)
}

func TestSetRubric_RejectsOutOfRange(t *testing.T) {
	t.Parallel()

	s := boundSession(t)
	r := model.DefaultRubric()
	r.PerspectiveCoverage = 42
	require.Error(t, s.SetRubric(r))
	assert.Equal(t, model.DefaultRubric(), s.Rubric())
}

func TestBind_RestartsRubric(t *testing.T) {
	t.Parallel()

	s := boundSession(t)
	r := model.DefaultRubric()
	r.Relevance = 9
	require.NoError(t, s.SetRubric(r))

	s.Bind(model.Query{Examiner: "Alice", Model: model.PipelineB, Text: "next", ResultCount: 1}, model.Answer{})
	assert.Equal(t, model.DefaultRubric(), s.Rubric())
	assert.Equal(t, model.PipelineB, s.Query().Model)
}

func TestReset_ClearsResultAndRubricOnly(t *testing.T) {
	t.Parallel()

	s := boundSession(t)
	s.Form = Form{Examiner: "Alice", Model: model.PipelineB, ResultCount: 8, Query: "draft"}
	r := model.DefaultRubric()
	r.ResponseTime = 2
	require.NoError(t, s.SetRubric(r))

	s.Reset()

	assert.False(t, s.HasAnswer())
	assert.Equal(t, model.Query{}, s.Query())
	assert.Equal(t, model.DefaultRubric(), s.Rubric())
	assert.Equal(t, Form{Examiner: "Alice", Model: model.PipelineB, ResultCount: 8, Query: "draft"}, s.Form)
}

func TestManager_GetCreatesAndReuses(t *testing.T) {
	t.Parallel()

	m := NewManager(0)

	s1, created := m.Get("")
	require.True(t, created)
	require.NotEmpty(t, s1.ID)

	s2, created := m.Get(s1.ID)
	assert.False(t, created)
	assert.Same(t, s1, s2)

	s3, created := m.Get("unknown-id")
	assert.True(t, created)
	assert.NotEqual(t, s1.ID, s3.ID)
	assert.Equal(t, 2, m.Len())
}

func TestManager_Discard(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	s, _ := m.Get("")
	m.Discard(s.ID)
	assert.Equal(t, 0, m.Len())

	again, created := m.Get(s.ID)
	assert.True(t, created)
	assert.NotEqual(t, s.ID, again.ID)
}

func TestManager_ExpiresIdleSessions(t *testing.T) {
	t.Parallel()

	m := NewManager(time.Hour)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old, _ := m.Get("")
	now = now.Add(2 * time.Hour)
	fresh, _ := m.Get("")

	assert.Equal(t, 1, m.Len())
	_, created := m.Get(old.ID)
	assert.True(t, created)
	_, created = m.Get(fresh.ID)
	assert.False(t, created)
}

func TestManager_ConcurrentGet(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	s, _ := m.Get("")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, created := m.Get(s.ID)
			assert.False(t, created)
			assert.Same(t, s, got)
		}()
	}
	wg.Wait()
}
