package documents

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// InvoiceData carries everything the PDF renderer needs. Callers assemble it
// from the invoice and user records so the renderer stays free of database
// concerns.
type InvoiceData struct {
	Number        string
	CustomerName  string
	CustomerEmail string
	Plan          string
	AmountDisplay string
	IssuedAt      time.Time
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	SiteTitle     string
}

// RenderInvoicePDF renders a one-page A4 invoice document.
func RenderInvoicePDF(data InvoiceData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	title := data.SiteTitle
	if title == "" {
		title = "KlangFox"
	}

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, "Premium Subscription Invoice", "", 1, "L", false, 0, "")
	pdf.Ln(6)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Invoice %s", data.Number), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Date: %s", data.IssuedAt.Format("02.01.2006")), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, "Billed to", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, data.CustomerName, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, data.CustomerEmail, "", 1, "L", false, 0, "")
	pdf.Ln(8)

	// Line item table
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(110, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 8, "Period", "1", 0, "L", true, 0, "")
	pdf.CellFormat(0, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	description := fmt.Sprintf("%s plan subscription", planLabel(data.Plan))
	pdf.CellFormat(110, 8, description, "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, formatPeriod(data.PeriodStart, data.PeriodEnd), "1", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, data.AmountDisplay, "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(150, 8, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(0, 8, data.AmountDisplay, "1", 1, "R", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 5, "This invoice was settled automatically. No payment is due.", "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated on %s", time.Now().UTC().Format("02.01.2006 15:04 MST")), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func planLabel(plan string) string {
	switch plan {
	case "premium":
		return "Premium"
	case "premium_max":
		return "Premium Max"
	case "":
		return "Premium"
	default:
		return plan
	}
}

func formatPeriod(start, end *time.Time) string {
	if start == nil || end == nil {
		return "-"
	}
	return fmt.Sprintf("%s - %s", start.Format("02.01.06"), end.Format("02.01.06"))
}
