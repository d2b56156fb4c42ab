package evallog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rag-evaluator/internal/model"
)

func workbookBytes(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestEncode_Header(t *testing.T) {
	t.Parallel()

	data, err := Encode(Log{})
	require.NoError(t, err)

	f, err := xlsx.OpenBinary(data)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	require.Len(t, f.Sheets[0].Rows, 1)

	assert.Equal(t, []string{
		"Timestamp", "Examiner", "Model", "Query", "N_Results", "Summary", "Documents",
		"Relevance", "Relevance_Comment", "Factual_Accuracy", "Factual_Accuracy_Comment",
		"Response_Time", "Response_Time_Comment", "Perspective_Coverage", "Perspective_Comment",
		"General_Comment",
	}, rowValues(f.Sheets[0].Rows[0]))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	l := fiveRowLog()
	data, err := Encode(l)
	require.NoError(t, err)

	got, err := Decode("test", data)
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestEncodeDecode_EmptyLog(t *testing.T) {
	t.Parallel()

	data, err := Encode(Log{})
	require.NoError(t, err)

	got, err := Decode("test", data)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncodeDecode_MultilineAndUnicode(t *testing.T) {
	t.Parallel()

	rec := sampleRecord("Abebe Bikila", model.PipelineB, 7)
	rec.Query = "Which β-lactamases confer resistance?"
	rec.Documents = "line one\nline two\n\nline four"
	rec.GeneralComment = ""

	data, err := Encode(Log{rec})
	require.NoError(t, err)

	got, err := Decode("test", data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestEncodeDecode_ControlCharacters(t *testing.T) {
	t.Parallel()

	rec := sampleRecord("Alice", model.PipelineA, 1)
	rec.Documents = "page1\fpage2\x00"
	rec.Summary = "bell\a and vertical\vtab"
	rec.GeneralComment = "literal _x0041_ and _x00AB\f stay as typed"
	rec.RelevanceComment = "\uFFFE\r\n"

	data, err := Encode(Log{rec})
	require.NoError(t, err)

	got, err := Decode("test", data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestEscapeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"snake_case_name", "snake_case_name"},
		{"tab\tnewline\n", "tab\tnewline\n"},
		{"a\fb", "a_x000C_b"},
		{"\x00", "_x0000_"},
		{"crlf\r\n", "crlf_x000D_\n"},
		{"_x0041_", "_x005F_x0041_"},
		{"_x00AB\f", "_x005F_x00AB_x000C_"},
	}
	for _, tt := range tests {
		got := escapeText(tt.in)
		assert.Equal(t, tt.want, got, "escape %q", tt.in)
		assert.Equal(t, tt.in, unescapeText(got), "unescape %q", got)
	}
}

func TestDecode_SpreadsheetEscapes(t *testing.T) {
	t.Parallel()

	row := []string{
		"2025-06-01 12:00:00", "Alice", "PipelineA", "q", "3", "s", "line one_x000D_\nline two",
		"7", "", "8", "", "6", "", "9", "", "",
	}
	got, err := Decode("test", workbookBytes(t, [][]string{Header, row}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "line one\r\nline two", got[0].Documents)
}

func TestDecode_ColumnsByName(t *testing.T) {
	t.Parallel()

	header := []string{
		"Examiner", "Timestamp", "Model", "Query", "N_Results", "Summary", "Documents",
		"Relevance", "Relevance_Comment", "Factual_Accuracy", "Factual_Accuracy_Comment",
		"Response_Time", "Response_Time_Comment", "Perspective_Coverage", "Perspective_Comment",
		"General_Comment",
	}
	row := []string{
		"Alice", "2025-06-01 12:00:00", "Gemini", "What is AMR?", "3", "s", "d",
		"7", "", "8", "", "6", "", "9", "", "",
	}
	got, err := Decode("test", workbookBytes(t, [][]string{header, row}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", got[0].Examiner)
	assert.Equal(t, model.Pipeline("Gemini"), got[0].Model)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), got[0].Timestamp)
	assert.Equal(t, 3, got[0].ResultCount)
	assert.Equal(t, 9, got[0].PerspectiveCoverage)
}

func TestDecode_ExcelSerialDateAndFloatScores(t *testing.T) {
	t.Parallel()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	hdr := sheet.AddRow()
	for _, h := range Header {
		hdr.AddCell().SetString(h)
	}
	row := sheet.AddRow()
	row.AddCell().SetFloat(45809.5) // 2025-06-01 12:00
	row.AddCell().SetString("Bob")
	row.AddCell().SetString("PipelineB")
	row.AddCell().SetString("q")
	row.AddCell().SetFloat(5.0)
	row.AddCell().SetString("s")
	row.AddCell().SetString("d")
	for range 4 {
		row.AddCell().SetInt(4)
		row.AddCell().SetString("c")
	}
	row.AddCell().SetString("g")
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	got, err := Decode("legacy", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), got[0].Timestamp)
	assert.Equal(t, 5, got[0].ResultCount)
	assert.Equal(t, 4, got[0].Relevance)
	assert.Equal(t, "g", got[0].GeneralComment)
}

func TestDecode_SkipsBlankRows(t *testing.T) {
	t.Parallel()

	blankRow := make([]string, len(Header))
	row := []string{
		"2025-06-01 12:00:00", "Alice", "PipelineA", "q", "3", "s", "d",
		"7", "", "8", "", "6", "", "9", "", "",
	}
	got, err := Decode("test", workbookBytes(t, [][]string{Header, blankRow, row}))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDecode_Corrupt(t *testing.T) {
	t.Parallel()

	validRow := []string{
		"2025-06-01 12:00:00", "Alice", "PipelineA", "q", "3", "s", "d",
		"7", "", "8", "", "6", "", "9", "", "",
	}

	t.Run("not a workbook", func(t *testing.T) {
		t.Parallel()
		_, err := Decode("test", []byte("definitely not a zip archive"))
		require.Error(t, err)
		assert.True(t, IsCorrupt(err))
	})

	t.Run("missing columns", func(t *testing.T) {
		t.Parallel()
		_, err := Decode("test", workbookBytes(t, [][]string{{"Timestamp", "Examiner"}, {"x", "y"}}))
		require.Error(t, err)
		assert.True(t, IsCorrupt(err))
		assert.Contains(t, err.Error(), "Relevance")

		var ce *CorruptError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1, ce.Row)
	})

	t.Run("duplicate column", func(t *testing.T) {
		t.Parallel()
		hdr := append(append([]string{}, Header...), "Examiner")
		_, err := Decode("test", workbookBytes(t, [][]string{hdr}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("non-integer score", func(t *testing.T) {
		t.Parallel()
		bad := append([]string{}, validRow...)
		bad[7] = "high"
		_, err := Decode("test", workbookBytes(t, [][]string{Header, validRow, bad}))
		require.Error(t, err)

		var ce *CorruptError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 3, ce.Row)
		assert.Contains(t, err.Error(), "Relevance")
	})

	t.Run("fractional result count", func(t *testing.T) {
		t.Parallel()
		bad := append([]string{}, validRow...)
		bad[4] = "2.5"
		_, err := Decode("test", workbookBytes(t, [][]string{Header, bad}))
		require.Error(t, err)
		assert.True(t, IsCorrupt(err))
	})

	t.Run("bad timestamp", func(t *testing.T) {
		t.Parallel()
		bad := append([]string{}, validRow...)
		bad[0] = "yesterday"
		_, err := Decode("test", workbookBytes(t, [][]string{Header, bad}))
		require.Error(t, err)
		assert.True(t, IsCorrupt(err))
		assert.Contains(t, err.Error(), "Timestamp")
	})
}

func TestLogAppend_DoesNotAlias(t *testing.T) {
	t.Parallel()

	base := make(Log, 1, 4)
	base[0] = sampleRecord("Alice", model.PipelineA, 0)

	a := base.Append(sampleRecord("Bob", model.PipelineA, 1))
	b := base.Append(sampleRecord("Carol", model.PipelineB, 2))

	require.Len(t, base, 1)
	assert.Equal(t, "Bob", a[1].Examiner)
	assert.Equal(t, "Carol", b[1].Examiner)
}
