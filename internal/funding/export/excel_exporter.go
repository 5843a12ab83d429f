package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelOptions names the workbook sheets
type ExcelOptions struct {
	SheetName string
	// SummarySheetName is skipped when empty
	SummarySheetName string
}

// DefaultExcelOptions returns the Stages and Summary sheet names
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{SheetName: "Stages", SummarySheetName: "Summary"}
}

// ExcelExporter writes a table to an XLSX workbook with a frozen, filterable
// header row.
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions

	headerStyle int
	dateStyle   int
	amountStyle int
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	_ = file.SetSheetName("Sheet1", options.SheetName)
	return &ExcelExporter{file: file, options: options}
}

// WriteTable writes the stage rows to the main sheet and the summary items,
// if any, to a second sheet.
func (e *ExcelExporter) WriteTable(table Table) error {
	if err := e.prepareStyles(); err != nil {
		return err
	}
	sheet := e.options.SheetName
	labels, keys := table.labels(), table.keys()

	widths := make([]float64, len(keys))
	for col, label := range labels {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := e.file.SetCellValue(sheet, cell, label); err != nil {
			return err
		}
		widths[col] = textWidth(label)
	}
	if len(labels) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(labels), 1)
		if err := e.file.SetCellStyle(sheet, "A1", last, e.headerStyle); err != nil {
			return err
		}
	}
	if err := e.file.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	for r, row := range table.Rows {
		for col, key := range keys {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := e.setCell(sheet, cell, row[key]); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
			widths[col] = max(widths[col], textWidth(row[key]))
		}
	}

	if len(keys) > 0 && len(table.Rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(keys), len(table.Rows)+1)
		if err := e.file.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return fmt.Errorf("failed to set auto filter: %w", err)
		}
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := e.file.SetColWidth(sheet, col, col, min(max(w, 10), 50)); err != nil {
			return err
		}
	}

	if len(table.Summary) == 0 || e.options.SummarySheetName == "" {
		return nil
	}
	return e.writeSummary(table.Summary)
}

func (e *ExcelExporter) writeSummary(items []SummaryItem) error {
	sheet := e.options.SummarySheetName
	if _, err := e.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	for i, item := range items {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := e.file.SetCellValue(sheet, labelCell, item.Label); err != nil {
			return err
		}
		if err := e.setCell(sheet, valueCell, item.Value); err != nil {
			return err
		}
	}
	return e.file.SetColWidth(sheet, "A", "A", 24)
}

// WriteTo writes the workbook to a writer
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	return e.file.Write(w)
}

// Close closes the workbook
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) prepareStyles() error {
	var err error
	thin := func(side string) excelize.Border { return excelize.Border{Type: side, Color: "000000", Style: 1} }
	e.headerStyle, err = e.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    []excelize.Border{thin("left"), thin("right"), thin("top"), thin("bottom")},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	// 14 is the builtin short date format
	if e.dateStyle, err = e.file.NewStyle(&excelize.Style{NumFmt: 14}); err != nil {
		return fmt.Errorf("failed to create date style: %w", err)
	}
	amount := "#,##0"
	if e.amountStyle, err = e.file.NewStyle(&excelize.Style{CustomNumFmt: &amount}); err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}
	return nil
}

func (e *ExcelExporter) setCell(sheet, cell string, val interface{}) error {
	style := 0
	switch v := val.(type) {
	case nil:
		val = ""
	case *time.Time:
		if v == nil || v.IsZero() {
			val = ""
		} else {
			val, style = *v, e.dateStyle
		}
	case time.Time:
		if v.IsZero() {
			val = ""
		} else {
			style = e.dateStyle
		}
	case int64:
		style = e.amountStyle
	}
	if err := e.file.SetCellValue(sheet, cell, val); err != nil {
		return err
	}
	if style == 0 {
		return nil
	}
	return e.file.SetCellStyle(sheet, cell, cell, style)
}

func textWidth(val interface{}) float64 {
	if val == nil {
		return 0
	}
	return float64(len(fmt.Sprint(val))) * 1.2
}
