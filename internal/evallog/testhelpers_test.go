package evallog

import (
	"fmt"
	"time"

	"github.com/sells-group/rag-evaluator/internal/model"
)

var baseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func sampleRecord(examiner string, p model.Pipeline, i int) model.EvaluationRecord {
	return model.EvaluationRecord{
		Timestamp:   baseTime.Add(time.Duration(i) * time.Minute),
		Examiner:    examiner,
		Model:       p,
		Query:       fmt.Sprintf("question %d about AMR?", i),
		ResultCount: i%10 + 1,
		Summary:     fmt.Sprintf("summary %d", i),
		Documents:   fmt.Sprintf("snippet %d-a\nsnippet %d-b", i, i),
		Rubric: model.Rubric{
			Relevance:                  (i+1)%10 + 1,
			RelevanceComment:           "relevant",
			FactualAccuracy:            (i+2)%10 + 1,
			FactualAccuracyComment:     "",
			ResponseTime:               (i+3)%10 + 1,
			ResponseTimeComment:        "fast enough",
			PerspectiveCoverage:        (i+4)%10 + 1,
			PerspectiveCoverageComment: "one-sided",
			GeneralComment:             fmt.Sprintf("general %d", i),
		},
	}
}

// fiveRowLog has three rows by Alice and two by Bob across both pipelines.
func fiveRowLog() Log {
	return Log{
		sampleRecord("Alice", model.PipelineA, 0),
		sampleRecord("Bob", model.PipelineA, 1),
		sampleRecord("Alice", model.PipelineB, 2),
		sampleRecord("Bob", model.PipelineB, 3),
		sampleRecord("Alice", model.PipelineA, 4),
	}
}
