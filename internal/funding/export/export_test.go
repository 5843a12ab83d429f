package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleTable() Table {
	completed := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	return Table{
		Title: "Funding Stages",
		Columns: []Column{
			{Key: "id", Label: "ID"},
			{Key: "name", Label: "Name"},
			{Key: "target", Label: "Target"},
			{Key: "date"},
		},
		Rows: []map[string]interface{}{
			{"id": "pre-seed", "name": "Pre-Seed", "target": int64(100000), "date": &completed},
			{"id": "seed", "name": "Seed, Round 1", "target": int64(500000), "date": (*time.Time)(nil)},
		},
		Summary: []SummaryItem{
			{Label: "Total Target", Value: int64(600000)},
			{Label: "Total Raised", Value: int64(0)},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("docx")
	assert.Error(t, err)

	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleTable()))

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)

	// the reader skips the blank separator line
	require.Len(t, records, 5)
	assert.Equal(t, []string{"ID", "Name", "Target", "date"}, records[0])
	assert.Equal(t, []string{"pre-seed", "Pre-Seed", "100000", "2026-03-14"}, records[1])
	assert.Equal(t, []string{"seed", "Seed, Round 1", "500000", ""}, records[2])
	assert.Equal(t, []string{"Total Target", "600000"}, records[3])
	assert.Equal(t, []string{"Total Raised", "0"}, records[4])
}

func TestCSVExporterWithoutSummary(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultCSVOptions()
	opts.IncludeSummary = false
	opts.Delimiter = ';'
	opts.NullValue = "-"

	e := NewCSVExporter(&buf, opts)
	table := sampleTable()
	require.NoError(t, e.WriteTable(table))
	require.NoError(t, e.Flush())

	assert.Equal(t, "ID;Name;Target;date\npre-seed;Pre-Seed;100000;2026-03-14\nseed;Seed, Round 1;500000;-\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleTable()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Stages", "Summary"}, f.GetSheetList())

	header, err := f.GetCellValue("Stages", "A1")
	require.NoError(t, err)
	assert.Equal(t, "ID", header)

	name, err := f.GetCellValue("Stages", "B3")
	require.NoError(t, err)
	assert.Equal(t, "Seed, Round 1", name)

	label, err := f.GetCellValue("Summary", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Total Target", label)
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatPDF, sampleTable()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestWriteUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, Format("docx"), sampleTable()))
}

func TestPDFGenerator_PaginatesLongTables(t *testing.T) {
	table := sampleTable()
	for i := 0; i < 80; i++ {
		table.Rows = append(table.Rows, map[string]interface{}{"id": fmt.Sprintf("stage-%02d", i), "name": strings.Repeat("Bridge round ", 8), "target": int64(i * 1000)})
	}
	opts := DefaultPDFOptions()
	opts.Now = func() time.Time { return time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC) }

	g := NewPDFGenerator(opts)
	require.NoError(t, g.WriteTable(table))
	assert.Greater(t, g.pdf.PageCount(), 1)

	var buf bytes.Buffer
	require.NoError(t, g.WriteTo(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
