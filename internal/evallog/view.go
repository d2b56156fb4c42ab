package evallog

import (
	"sort"
	"strings"

	"github.com/sells-group/rag-evaluator/internal/model"
)

// All is the filter value that matches every row. Query validation keeps it
// from being used as an examiner name.
const All = model.AllExaminers

// ExportFilename is the download name of a filtered export.
const ExportFilename = "filtered_eamr_eval_log.xlsx"

// Filter selects rows by exact examiner and model. Empty or All disables a field.
type Filter struct {
	Examiner string
	Model    string
}

func active(v string) bool {
	return v != "" && v != All
}

// Matches reports whether a row with the given examiner and model passes every active field.
func (f Filter) Matches(examiner, model string) bool {
	if active(f.Examiner) && examiner != f.Examiner {
		return false
	}
	if active(f.Model) && model != f.Model {
		return false
	}
	return true
}

// Apply returns the rows of l that match f, in log order. l is not modified.
func (f Filter) Apply(l Log) Log {
	out := make(Log, 0, len(l))
	for _, rec := range l {
		if f.Matches(rec.Examiner, string(rec.Model)) {
			out = append(out, rec)
		}
	}
	return out
}

// FilterOptions are the choices offered for each filter field.
type FilterOptions struct {
	Examiners []string
	Models    []string
}

// Options returns the distinct non-empty examiners and models present in l,
// sorted. All is not included.
func Options(l Log) FilterOptions {
	examiners := make(map[string]struct{})
	models := make(map[string]struct{})
	for _, rec := range l {
		if strings.TrimSpace(rec.Examiner) != "" {
			examiners[rec.Examiner] = struct{}{}
		}
		if strings.TrimSpace(string(rec.Model)) != "" {
			models[string(rec.Model)] = struct{}{}
		}
	}
	return FilterOptions{
		Examiners: sortedKeys(examiners),
		Models:    sortedKeys(models),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Export encodes the rows of l that match f in the log's own format.
func Export(l Log, f Filter) ([]byte, error) {
	return Encode(f.Apply(l))
}
