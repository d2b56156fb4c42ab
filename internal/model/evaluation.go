package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Pipeline identifies one of the two question-answering backends.
type Pipeline string

// Pipeline values. The stored Model column holds these names verbatim.
const (
	PipelineA Pipeline = "PipelineA"
	PipelineB Pipeline = "PipelineB"
)

// Pipelines returns every selectable pipeline in display order.
func Pipelines() []Pipeline {
	return []Pipeline{PipelineA, PipelineB}
}

// Valid reports whether p is a known pipeline.
func (p Pipeline) Valid() bool {
	return p == PipelineA || p == PipelineB
}

// ParsePipeline converts a form or config value into a Pipeline.
func ParsePipeline(s string) (Pipeline, error) {
	p := Pipeline(strings.TrimSpace(s))
	if !p.Valid() {
		return "", eris.Errorf("model: unknown pipeline %q", s)
	}
	return p, nil
}

// Result count and rubric score bounds.
const (
	MinResultCount     = 1
	MaxResultCount     = 10
	DefaultResultCount = 5

	MinScore     = 1
	MaxScore     = 10
	DefaultScore = 5
)

// NoSummary is stored when the pipeline response carries no summary field.
const NoSummary = "No summary provided."

// Answer is a pipeline response: summary text plus grouped supporting snippets.
type Answer struct {
	Summary   string     `json:"summary"`
	Documents [][]string `json:"documents"`
}

// FlattenDocuments joins every snippet of every group, in order, with newlines.
// Group boundaries are discarded.
func FlattenDocuments(groups [][]string) string {
	var parts []string
	for _, group := range groups {
		parts = append(parts, group...)
	}
	return strings.Join(parts, "\n")
}

// Query is the identifying metadata of a pipeline request.
type Query struct {
	Examiner    string   `json:"examiner"`
	Model       Pipeline `json:"model"`
	Text        string   `json:"query"`
	ResultCount int      `json:"n_results"`
}

// NormalizeName trims and NFC-normalizes a reviewer-entered name so that
// visually identical examiners compare equal in filters.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// AllExaminers is the log viewer's "no filter" choice. No examiner may use it
// as a name, or their rows could not be selected on their own.
const AllExaminers = "All"

// Validate checks the preconditions for sending a query to a pipeline.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Examiner) == "" {
		return eris.New("model: examiner name is required")
	}
	if NormalizeName(q.Examiner) == AllExaminers {
		return eris.Errorf("model: examiner name %q is reserved", AllExaminers)
	}
	if strings.TrimSpace(q.Text) == "" {
		return eris.New("model: query is required")
	}
	if !q.Model.Valid() {
		return eris.Errorf("model: unknown pipeline %q", q.Model)
	}
	if q.ResultCount < MinResultCount || q.ResultCount > MaxResultCount {
		return eris.Errorf("model: result count %d outside [%d,%d]", q.ResultCount, MinResultCount, MaxResultCount)
	}
	return nil
}

// Rubric holds the reviewer's scores and comments for one answer.
type Rubric struct {
	Relevance                  int    `json:"relevance"`
	RelevanceComment           string `json:"relevance_comment"`
	FactualAccuracy            int    `json:"factual_accuracy"`
	FactualAccuracyComment     string `json:"factual_accuracy_comment"`
	ResponseTime               int    `json:"response_time"`
	ResponseTimeComment        string `json:"response_time_comment"`
	PerspectiveCoverage        int    `json:"perspective_coverage"`
	PerspectiveCoverageComment string `json:"perspective_comment"`
	GeneralComment             string `json:"general_comment"`
}

// DefaultRubric returns a rubric with every score at the midpoint and no comments.
func DefaultRubric() Rubric {
	return Rubric{
		Relevance:           DefaultScore,
		FactualAccuracy:     DefaultScore,
		ResponseTime:        DefaultScore,
		PerspectiveCoverage: DefaultScore,
	}
}

// Validate checks that every score lies in [MinScore, MaxScore].
func (r Rubric) Validate() error {
	scores := []struct {
		name  string
		value int
	}{
		{"relevance", r.Relevance},
		{"factual accuracy", r.FactualAccuracy},
		{"response time", r.ResponseTime},
		{"perspective coverage", r.PerspectiveCoverage},
	}
	for _, s := range scores {
		if s.value < MinScore || s.value > MaxScore {
			return eris.Errorf("model: %s score %d outside [%d,%d]", s.name, s.value, MinScore, MaxScore)
		}
	}
	return nil
}

// EvaluationRecord is one reviewer's assessment of one query/answer pair.
// Records are values; once built they are never modified.
type EvaluationRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Examiner    string    `json:"examiner"`
	Model       Pipeline  `json:"model"`
	Query       string    `json:"query"`
	ResultCount int       `json:"n_results"`
	Summary     string    `json:"summary"`
	Documents   string    `json:"documents"`
	Rubric
}

// Build assembles a record from the bound query, its answer and the rubric.
// The timestamp is truncated to whole seconds in UTC, the resolution the log keeps.
func Build(at time.Time, q Query, ans Answer, r Rubric) EvaluationRecord {
	return EvaluationRecord{
		Timestamp:   at.UTC().Truncate(time.Second),
		Examiner:    q.Examiner,
		Model:       q.Model,
		Query:       q.Text,
		ResultCount: q.ResultCount,
		Summary:     ans.Summary,
		Documents:   FlattenDocuments(ans.Documents),
		Rubric:      r,
	}
}
