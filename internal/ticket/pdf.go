// Package ticket renders purchase tickets for committed orders as PDF.
package ticket

import (
	"fmt"
	"io"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/jung-kurt/gofpdf"
)

// Renderer writes order tickets as PDF documents
type Renderer struct{}

// NewRenderer creates a new ticket renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// Render writes the PDF ticket for one order to w
func (r *Renderer) Render(w io.Writer, user *models.SessionUser, order *models.Order, lines []models.OrderLine) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Purchase Ticket", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 6, fmt.Sprintf("Order #%d", order.ID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Customer: %s (%s)", user.Name, user.Email), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Date: %s", order.CreatedAt.Format("2006-01-02 15:04:05")), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(80, 7, "Product", "B", 0, "L", false, 0, "")
	pdf.CellFormat(20, 7, "Qty", "B", 0, "R", false, 0, "")
	pdf.CellFormat(35, 7, "Unit Price", "B", 0, "R", false, 0, "")
	pdf.CellFormat(35, 7, "Subtotal", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	for _, line := range lines {
		pdf.CellFormat(80, 7, line.ProductName, "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", line.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, formatCents(line.UnitPrice), "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, formatCents(line.Subtotal), "", 1, "R", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Total: %s", formatCents(order.Total)), "", 1, "R", false, 0, "")

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 6, "Thank you for your purchase.", "", 1, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render ticket: %w", err)
	}

	util.TicketsGeneratedTotal.Inc()
	return nil
}
