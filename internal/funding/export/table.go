// Package export renders tabular funding data as CSV, XLSX or PDF.
package export

import (
	"fmt"
	"io"
	"strings"
)

// Format identifies an export encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat resolves a format name, defaulting to CSV when empty
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// Column is a table column; Key indexes Row values
type Column struct {
	Key   string
	Label string
}

// SummaryItem is a labelled figure printed alongside the table
type SummaryItem struct {
	Label string
	Value interface{}
}

// Table is the input of every exporter
type Table struct {
	Title   string
	Columns []Column
	Rows    []map[string]interface{}
	Summary []SummaryItem
}

func (t Table) keys() []string {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Key
	}
	return keys
}

func (t Table) labels() []string {
	labels := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		labels[i] = c.Label
		if labels[i] == "" {
			labels[i] = c.Key
		}
	}
	return labels
}

// Write renders table in the given format
func Write(w io.Writer, format Format, table Table) error {
	switch format {
	case FormatCSV:
		e := NewCSVExporter(w, DefaultCSVOptions())
		if err := e.WriteTable(table); err != nil {
			return err
		}
		return e.Flush()
	case FormatXLSX:
		e := NewExcelExporter(DefaultExcelOptions())
		defer e.Close()
		if err := e.WriteTable(table); err != nil {
			return err
		}
		return e.WriteTo(w)
	case FormatPDF:
		opts := DefaultPDFOptions()
		if table.Title != "" {
			opts.Title = table.Title
		}
		g := NewPDFGenerator(opts)
		if err := g.WriteTable(table); err != nil {
			return err
		}
		return g.WriteTo(w)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
