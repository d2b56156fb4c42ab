package evallog

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rag-evaluator/internal/model"
)

// Column names of the log sheet, in write order.
const (
	ColTimestamp                  = "Timestamp"
	ColExaminer                   = "Examiner"
	ColModel                      = "Model"
	ColQuery                      = "Query"
	ColNResults                   = "N_Results"
	ColSummary                    = "Summary"
	ColDocuments                  = "Documents"
	ColRelevance                  = "Relevance"
	ColRelevanceComment           = "Relevance_Comment"
	ColFactualAccuracy            = "Factual_Accuracy"
	ColFactualAccuracyComment     = "Factual_Accuracy_Comment"
	ColResponseTime               = "Response_Time"
	ColResponseTimeComment        = "Response_Time_Comment"
	ColPerspectiveCoverage        = "Perspective_Coverage"
	ColPerspectiveCoverageComment = "Perspective_Comment"
	ColGeneralComment             = "General_Comment"
)

// Header is the header row of every log sheet.
var Header = []string{
	ColTimestamp, ColExaminer, ColModel, ColQuery, ColNResults, ColSummary, ColDocuments,
	ColRelevance, ColRelevanceComment,
	ColFactualAccuracy, ColFactualAccuracyComment,
	ColResponseTime, ColResponseTimeComment,
	ColPerspectiveCoverage, ColPerspectiveCoverageComment,
	ColGeneralComment,
}

// SheetName is the name of the single sheet written to every log.
const SheetName = "Sheet1"

// TimestampLayout is how timestamps are written. Timestamps are UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// ContentType is the MIME type of encoded logs.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// Encode serializes the log as a single-sheet workbook with the Header row first.
func Encode(l Log) ([]byte, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "evallog: add sheet")
	}

	hdr := sheet.AddRow()
	for _, name := range Header {
		hdr.AddCell().SetString(name)
	}

	for _, rec := range l {
		row := sheet.AddRow()
		row.AddCell().SetString(rec.Timestamp.UTC().Format(TimestampLayout))
		row.AddCell().SetString(escapeText(rec.Examiner))
		row.AddCell().SetString(string(rec.Model))
		row.AddCell().SetString(escapeText(rec.Query))
		row.AddCell().SetInt(rec.ResultCount)
		row.AddCell().SetString(escapeText(rec.Summary))
		row.AddCell().SetString(escapeText(rec.Documents))
		row.AddCell().SetInt(rec.Relevance)
		row.AddCell().SetString(escapeText(rec.RelevanceComment))
		row.AddCell().SetInt(rec.FactualAccuracy)
		row.AddCell().SetString(escapeText(rec.FactualAccuracyComment))
		row.AddCell().SetInt(rec.ResponseTime)
		row.AddCell().SetString(escapeText(rec.ResponseTimeComment))
		row.AddCell().SetInt(rec.PerspectiveCoverage)
		row.AddCell().SetString(escapeText(rec.PerspectiveCoverageComment))
		row.AddCell().SetString(escapeText(rec.GeneralComment))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "evallog: write workbook")
	}
	return buf.Bytes(), nil
}

// Decode parses a workbook produced by Encode, or by any tool that wrote the
// same header on its first sheet. Columns are located by header name, so
// their order does not matter. A sheet with no rows decodes to an empty log.
// Parse failures are returned as *CorruptError.
func Decode(source string, data []byte) (Log, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, &CorruptError{Source: source, Err: eris.Wrap(err, "evallog: open workbook")}
	}
	if len(f.Sheets) == 0 {
		return nil, &CorruptError{Source: source, Err: eris.New("evallog: workbook has no sheets")}
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return Log{}, nil
	}

	cols, err := columnIndex(rowValues(sheet.Rows[0]))
	if err != nil {
		return nil, &CorruptError{Source: source, Row: 1, Err: err}
	}

	l := make(Log, 0, len(sheet.Rows)-1)
	for i, row := range sheet.Rows[1:] {
		values := rowValues(row)
		if blank(values) {
			continue
		}
		rec, err := decodeRecord(cols, values)
		if err != nil {
			return nil, &CorruptError{Source: source, Row: i + 2, Err: err}
		}
		l = append(l, rec)
	}
	return l, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := idx[name]; dup {
			return nil, eris.Errorf("evallog: duplicate column %q", name)
		}
		idx[name] = i
	}
	var missing []string
	for _, name := range Header {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("evallog: missing columns %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

type rowReader struct {
	cols   map[string]int
	values []string
	err    error
}

func (r *rowReader) str(col string) string {
	i := r.cols[col]
	if i >= len(r.values) {
		return ""
	}
	return r.values[i]
}

func (r *rowReader) integer(col string) int {
	if r.err != nil {
		return 0
	}
	raw := strings.TrimSpace(r.str(col))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) {
		r.err = eris.Errorf("evallog: column %s: %q is not an integer", col, raw)
		return 0
	}
	return int(f)
}

func (r *rowReader) timestamp(col string) time.Time {
	if r.err != nil {
		return time.Time{}
	}
	t, err := parseTimestamp(r.str(col))
	if err != nil {
		r.err = eris.Wrapf(err, "evallog: column %s", col)
	}
	return t
}

func decodeRecord(cols map[string]int, values []string) (model.EvaluationRecord, error) {
	r := &rowReader{cols: cols, values: values}
	rec := model.EvaluationRecord{
		Timestamp:   r.timestamp(ColTimestamp),
		Examiner:    r.str(ColExaminer),
		Model:       model.Pipeline(r.str(ColModel)),
		Query:       r.str(ColQuery),
		ResultCount: r.integer(ColNResults),
		Summary:     r.str(ColSummary),
		Documents:   r.str(ColDocuments),
		Rubric: model.Rubric{
			Relevance:                  r.integer(ColRelevance),
			RelevanceComment:           r.str(ColRelevanceComment),
			FactualAccuracy:            r.integer(ColFactualAccuracy),
			FactualAccuracyComment:     r.str(ColFactualAccuracyComment),
			ResponseTime:               r.integer(ColResponseTime),
			ResponseTimeComment:        r.str(ColResponseTimeComment),
			PerspectiveCoverage:        r.integer(ColPerspectiveCoverage),
			PerspectiveCoverageComment: r.str(ColPerspectiveCoverageComment),
			GeneralComment:             r.str(ColGeneralComment),
		},
	}
	return rec, r.err
}

// parseTimestamp accepts the written layout, common ISO variants and Excel
// serial dates (logs written by spreadsheet tools store dates as numbers).
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		return xlsx.TimeFromExcelTime(serial, false).UTC().Round(time.Second), nil
	}
	return time.Time{}, eris.Errorf("unrecognized timestamp %q", raw)
}

// escapedRune matches the OOXML _xHHHH_ form spreadsheet tools use for
// characters that XML 1.0 cannot carry.
var (
	escapedRune   = regexp.MustCompile(`_x([0-9A-Fa-f]{4})_`)
	escapedPrefix = regexp.MustCompile(`^_x[0-9A-Fa-f]{4}`)
)

// escapeText writes characters XML 1.0 forbids as _xHHHH_. An underscore that
// starts text looking like an escape is itself written as _x005F_, so
// unescapeText restores the exact input.
func escapeText(s string) string {
	if !needsEscape(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i, r := range s {
		switch {
		case r == '_' && escapedPrefix.MatchString(s[i:]):
			b.WriteString("_x005F_")
		case !xmlChar(r):
			fmt.Fprintf(&b, "_x%04X_", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func needsEscape(s string) bool {
	if strings.Contains(s, "_x") {
		return true
	}
	for _, r := range s {
		if !xmlChar(r) {
			return true
		}
	}
	return false
}

// xmlChar reports whether r can be written as is. Carriage returns are
// escaped like spreadsheet tools do because XML readers fold them into
// newlines. Invalid UTF-8 decodes to U+FFFD and passes.
func xmlChar(r rune) bool {
	return r == '\t' || r == '\n' ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

func unescapeText(s string) string {
	if !strings.Contains(s, "_x") {
		return s
	}
	return escapedRune.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseUint(m[2:6], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
}

// rowValues returns the raw cell values of a row. Raw values keep numbers
// unformatted, which the integer and date parsers rely on.
func rowValues(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	values := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell != nil {
			values[j] = unescapeText(cell.Value)
		}
	}
	return values
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
