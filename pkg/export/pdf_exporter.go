package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateField is one labelled line on a certificate.
type CertificateField struct {
	Label string
	Value string
}

// Certificate is the content of a rendered certificate.
type Certificate struct {
	Title      string
	Issuer     string
	HolderName string
	Reference  string
	Term       string
	IssuedAt   time.Time
	Fields     []CertificateField
}

// CertificateRenderer lays certificates out as single-page A4 PDFs.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render produces the PDF bytes. gofpdf cannot be interrupted, so the context
// is only checked before and after layout.
func (r *CertificateRenderer) Render(ctx context.Context, cert Certificate) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cert.HolderName) == "" {
		return nil, fmt.Errorf("certificate requires a holder name")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	if cert.Issuer != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, cert.Issuer, "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 12, strings.ToUpper(cert.Title), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 6, fmt.Sprintf("This certifies that %s has completed the health requirements for %s.", cert.HolderName, cert.Term), "", "C", false)
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 8, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(110, 8, "Record", "1", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, field := range cert.Fields {
		pdf.CellFormat(60, 7, field.Label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(110, 7, field.Value, "1", 1, "L", false, 0, "")
	}

	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Reference %s, issued %s", cert.Reference, cert.IssuedAt.Format("2006-01-02")), "", 1, "R", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
