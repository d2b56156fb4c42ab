package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePipeline(t *testing.T) {
	t.Parallel()

	p, err := ParsePipeline("PipelineA")
	require.NoError(t, err)
	assert.Equal(t, PipelineA, p)

	p, err = ParsePipeline(" PipelineB ")
	require.NoError(t, err)
	assert.Equal(t, PipelineB, p)

	_, err = ParsePipeline("Gemini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pipeline")
}

func TestFlattenDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		groups [][]string
		want   string
	}{
		{"nil", nil, ""},
		{"empty groups", [][]string{{}, {}}, ""},
		{"single group", [][]string{{"a", "b"}}, "a\nb"},
		{"keeps order across groups", [][]string{{"a"}, {"b", "c"}, {}, {"d"}}, "a\nb\nc\nd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FlattenDocuments(tt.groups))
		})
	}
}

func TestQueryValidate(t *testing.T) {
	t.Parallel()

	valid := Query{Examiner: "Alice", Model: PipelineA, Text: "What is AMR?", ResultCount: 3}
	require.NoError(t, valid.Validate())

	t.Run("blank examiner", func(t *testing.T) {
		t.Parallel()
		q := valid
		q.Examiner = "   "
		assert.ErrorContains(t, q.Validate(), "examiner")
	})

	t.Run("reserved examiner", func(t *testing.T) {
		t.Parallel()
		for _, name := range []string{"All", "  All "} {
			q := valid
			q.Examiner = name
			assert.ErrorContains(t, q.Validate(), "reserved", "examiner %q", name)
		}
		// Only the exact filter value collides.
		q := valid
		q.Examiner = "Allison"
		assert.NoError(t, q.Validate())
	})

	t.Run("blank query", func(t *testing.T) {
		t.Parallel()
		q := valid
		q.Text = "\n\t"
		assert.ErrorContains(t, q.Validate(), "query")
	})

	t.Run("unknown model", func(t *testing.T) {
		t.Parallel()
		q := valid
		q.Model = "PipelineC"
		assert.ErrorContains(t, q.Validate(), "unknown pipeline")
	})

	t.Run("result count bounds", func(t *testing.T) {
		t.Parallel()
		for _, n := range []int{0, 11, -1} {
			q := valid
			q.ResultCount = n
			assert.Error(t, q.Validate(), "n=%d", n)
		}
		for _, n := range []int{1, 10} {
			q := valid
			q.ResultCount = n
			assert.NoError(t, q.Validate(), "n=%d", n)
		}
	})
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	// "e" followed by a combining acute accent composes to U+00E9.
	assert.Equal(t, "Ren\u00e9", NormalizeName("  Rene\u0301 "))
	assert.Equal(t, "Alice", NormalizeName("Alice"))
}

func TestRubricDefaultsAndValidate(t *testing.T) {
	t.Parallel()

	r := DefaultRubric()
	assert.Equal(t, 5, r.Relevance)
	assert.Equal(t, 5, r.FactualAccuracy)
	assert.Equal(t, 5, r.ResponseTime)
	assert.Equal(t, 5, r.PerspectiveCoverage)
	assert.Empty(t, r.GeneralComment)
	require.NoError(t, r.Validate())

	r.ResponseTime = 11
	assert.ErrorContains(t, r.Validate(), "response time")

	r = DefaultRubric()
	r.Relevance = 0
	assert.ErrorContains(t, r.Validate(), "relevance")
}

func TestBuild(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 14, 30, 15, 987654321, time.FixedZone("EAT", 3*3600))
	q := Query{Examiner: "Alice", Model: PipelineA, Text: "What is AMR?", ResultCount: 3}
	ans := Answer{
		Summary:   "AMR is antimicrobial resistance.",
		Documents: [][]string{{"doc one", "doc two"}, {"doc three"}},
	}
	r := Rubric{
		Relevance: 7, RelevanceComment: "on topic",
		FactualAccuracy: 8, FactualAccuracyComment: "correct",
		ResponseTime: 6, ResponseTimeComment: "slow",
		PerspectiveCoverage: 9, PerspectiveCoverageComment: "broad",
	}

	rec := Build(at, q, ans, r)

	assert.Equal(t, time.Date(2025, 6, 1, 11, 30, 15, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, "Alice", rec.Examiner)
	assert.Equal(t, PipelineA, rec.Model)
	assert.Equal(t, "What is AMR?", rec.Query)
	assert.Equal(t, 3, rec.ResultCount)
	assert.Equal(t, "AMR is antimicrobial resistance.", rec.Summary)
	assert.Equal(t, "doc one\ndoc two\ndoc three", rec.Documents)
	assert.Equal(t, 7, rec.Relevance)
	assert.Equal(t, 8, rec.FactualAccuracy)
	assert.Equal(t, 6, rec.ResponseTime)
	assert.Equal(t, 9, rec.PerspectiveCoverage)
	assert.Equal(t, "", rec.GeneralComment)
}

func TestBuildPreservesRequestParameters(t *testing.T) {
	t.Parallel()

	at := time.Now()
	for _, p := range Pipelines() {
		for n := MinResultCount; n <= MaxResultCount; n++ {
			rec := Build(at, Query{Examiner: "x", Model: p, Text: "q", ResultCount: n}, Answer{}, DefaultRubric())
			assert.Equal(t, p, rec.Model)
			assert.Equal(t, n, rec.ResultCount)
		}
	}
}
