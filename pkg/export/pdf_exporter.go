package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfMargin     = 10.0
	pdfLineHeight = 5.0
)

// PDFExporter renders datasets into a paged landscape table. The title and
// column headers repeat on every page.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, pageH := pdf.GetPageSize()
	widths := columnWidths(data, pageW-2*pdfMargin)

	pdf.SetHeaderFunc(func() {
		if title != "" {
			pdf.SetFont("Arial", "B", 13)
			pdf.CellFormat(0, 9, tr(title), "", 1, "L", false, 0, "")
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, header := range data.Headers {
			pdf.CellFormat(widths[i], 7, tr(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-pdfMargin)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AddPage()

	for _, row := range data.Rows {
		cells := make([][][]byte, len(data.Headers))
		lines := 1
		for i, header := range data.Headers {
			cells[i] = pdf.SplitLines([]byte(tr(row[header])), widths[i]-2)
			if len(cells[i]) > lines {
				lines = len(cells[i])
			}
		}
		height := float64(lines) * pdfLineHeight
		if pdf.GetY()+height > pageH-pdfMargin-5 {
			pdf.AddPage()
		}
		x, y := pdf.GetXY()
		for i := range data.Headers {
			pdf.Rect(x, y, widths[i], height, "D")
			for li, line := range cells[i] {
				pdf.SetXY(x+1, y+float64(li)*pdfLineHeight)
				pdf.CellFormat(widths[i]-2, pdfLineHeight, string(line), "", 0, "L", false, 0, "")
			}
			x += widths[i]
		}
		pdf.SetXY(pdfMargin, y+height)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(data Dataset, total float64) []float64 {
	widths := make([]float64, len(data.Headers))
	sum := 0.0
	for i := range widths {
		weight := 1.0
		if i < len(data.Weights) && data.Weights[i] > 0 {
			weight = data.Weights[i]
		}
		widths[i] = weight
		sum += weight
	}
	for i := range widths {
		widths[i] = widths[i] / sum * total
	}
	return widths
}
