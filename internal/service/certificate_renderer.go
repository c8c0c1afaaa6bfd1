package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/pkg/export"
)

type certificateLayout interface {
	Render(ctx context.Context, cert export.Certificate) ([]byte, error)
}

// PDFCertificateRenderer maps a document payload onto the PDF layout.
type PDFCertificateRenderer struct {
	layout certificateLayout
	terms  termDefinitions
	issuer string
	now    Clock
}

// NewPDFCertificateRenderer builds the renderer used by issuance.
func NewPDFCertificateRenderer(layout certificateLayout, terms termDefinitions, issuer string) *PDFCertificateRenderer {
	return &PDFCertificateRenderer{layout: layout, terms: terms, issuer: issuer, now: systemClock}
}

// Render implements CertificateRenderer.
func (r *PDFCertificateRenderer) Render(ctx context.Context, doc *models.CertificationDocument, payload models.Payload) ([]byte, error) {
	def, err := r.terms.Definition(ctx, doc.YearID)
	if err != nil {
		return nil, err
	}
	term := def.Year.Label
	if doc.Period != nil {
		term += " " + string(*doc.Period)
	}

	name := strings.TrimSpace(strings.Join([]string{
		payloadText(payload["first_name"]),
		payloadText(payload["middle_name"]),
		payloadText(payload["last_name"]),
	}, " "))

	cert := export.Certificate{
		Title:      "Health Certificate",
		Issuer:     r.issuer,
		HolderName: strings.Join(strings.Fields(name), " "),
		Reference:  doc.ID,
		Term:       term,
		IssuedAt:   r.now().UTC(),
	}
	schema, _ := models.SchemaFor(models.RecordKindProfile)
	for _, field := range models.DocumentRequirements[doc.Kind] {
		if schema.TypeOf(field) == models.FieldAttachment {
			continue
		}
		cert.Fields = append(cert.Fields, export.CertificateField{Label: fieldLabel(field), Value: payloadText(payload[field])})
	}
	return r.layout.Render(ctx, cert)
}

func fieldLabel(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func payloadText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, payloadText(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(t, ", ")
	case map[string]interface{}:
		if name, ok := t["name"]; ok {
			return payloadText(name)
		}
	}
	return fmt.Sprint(v)
}
