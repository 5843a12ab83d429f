package export

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfFont       = "Arial"
	pdfBodySize   = 10
	pdfMargin     = 15
	pdfRowHeight  = 7
	pdfHeadHeight = 8
	pdfDateLayout = "2006-01-02"
)

// PDFOptions configures PDF generation
type PDFOptions struct {
	Title     string
	Landscape bool
	// Now stamps the generation date; nil means time.Now
	Now func() time.Time
}

// DefaultPDFOptions returns a landscape A4 layout
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{Title: "Funding Stages", Landscape: true}
}

// PDFGenerator renders a table as a paginated A4 document
type PDFGenerator struct {
	pdf     *gofpdf.Fpdf
	options PDFOptions
}

// NewPDFGenerator creates a new PDF generator
func NewPDFGenerator(options PDFOptions) *PDFGenerator {
	orientation := "P"
	if options.Landscape {
		orientation = "L"
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin+5, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin+5)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(pdfFont, "", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	return &PDFGenerator{pdf: pdf, options: options}
}

// WriteTable renders title, stage rows and summary, repeating the column
// header on every page.
func (g *PDFGenerator) WriteTable(table Table) error {
	g.pdf.AddPage()

	g.pdf.SetFont(pdfFont, "B", 16)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 10, g.options.Title, "", 1, "C", false, 0, "")
	g.pdf.SetFont(pdfFont, "", pdfBodySize-1)
	g.pdf.SetTextColor(128, 128, 128)
	g.pdf.CellFormat(0, 6, "Generated: "+g.options.Now().Format(pdfDateLayout), "", 1, "R", false, 0, "")
	g.pdf.Ln(6)

	labels, keys := table.labels(), table.keys()
	widths := g.layoutColumns(labels, keys, table.Rows)

	g.renderHeader(labels, widths)
	_, pageHeight := g.pdf.GetPageSize()
	for i, row := range table.Rows {
		if g.pdf.GetY()+pdfHeadHeight > pageHeight-pdfMargin-5 {
			g.pdf.AddPage()
			g.renderHeader(labels, widths)
		}
		g.pdf.SetFont(pdfFont, "", pdfBodySize)
		g.pdf.SetTextColor(0, 0, 0)
		if i%2 == 1 {
			g.pdf.SetFillColor(242, 242, 242)
		} else {
			g.pdf.SetFillColor(255, 255, 255)
		}
		for j, key := range keys {
			g.pdf.CellFormat(widths[j], pdfRowHeight, g.fit(cellText(row[key]), widths[j]), "1", 0, "L", true, 0, "")
		}
		g.pdf.Ln(-1)
	}

	if len(table.Summary) > 0 {
		g.renderSummary(table.Summary)
	}
	return g.pdf.Error()
}

// WriteTo writes the PDF to a writer
func (g *PDFGenerator) WriteTo(w io.Writer) error {
	return g.pdf.Output(w)
}

// layoutColumns sizes each column to its widest cell, shrinking all columns
// proportionally when the table is wider than the page.
func (g *PDFGenerator) layoutColumns(labels, keys []string, rows []map[string]interface{}) []float64 {
	pageWidth, _ := g.pdf.GetPageSize()
	available := pageWidth - 2*pdfMargin

	widths := make([]float64, len(keys))
	g.pdf.SetFont(pdfFont, "B", pdfBodySize+1)
	for i, label := range labels {
		widths[i] = g.pdf.GetStringWidth(label) + 4
	}
	g.pdf.SetFont(pdfFont, "", pdfBodySize)
	total := 0.0
	for i, key := range keys {
		for _, row := range rows {
			widths[i] = max(widths[i], g.pdf.GetStringWidth(cellText(row[key]))+4)
		}
		total += widths[i]
	}

	if total > available {
		for i := range widths {
			widths[i] *= available / total
		}
	}
	return widths
}

func (g *PDFGenerator) renderHeader(labels []string, widths []float64) {
	g.pdf.SetFont(pdfFont, "B", pdfBodySize+1)
	g.pdf.SetFillColor(68, 114, 196)
	g.pdf.SetTextColor(255, 255, 255)
	for i, label := range labels {
		g.pdf.CellFormat(widths[i], pdfHeadHeight, label, "1", 0, "C", true, 0, "")
	}
	g.pdf.Ln(-1)
}

func (g *PDFGenerator) renderSummary(items []SummaryItem) {
	g.pdf.Ln(8)
	g.pdf.SetFont(pdfFont, "B", pdfBodySize+2)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")
	g.pdf.Ln(2)

	for _, item := range items {
		g.pdf.SetFont(pdfFont, "B", pdfBodySize)
		g.pdf.CellFormat(60, 6, item.Label+":", "", 0, "L", false, 0, "")
		g.pdf.SetFont(pdfFont, "", pdfBodySize)
		g.pdf.CellFormat(0, 6, cellText(item.Value), "", 1, "L", false, 0, "")
	}
}

// fit shortens s until it fits into width, marking the cut with "..."
func (g *PDFGenerator) fit(s string, width float64) string {
	if g.pdf.GetStringWidth(s)+2 <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && g.pdf.GetStringWidth(string(runes)+"...")+2 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func cellText(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(pdfDateLayout)
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.Format(pdfDateLayout)
	case float64:
		return fmt.Sprintf("%.2f", v)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	default:
		return fmt.Sprint(v)
	}
}
