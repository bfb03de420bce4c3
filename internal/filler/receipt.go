package filler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rlourenco/emissor/internal/models"
)

// Labels shown on the portal's confirmation panel next to the issued
// invoice data. Layouts drift, so extraction matches label prefixes
// rather than element ids.
const (
	labelNumber           = "Número:"
	labelVerificationCode = "Código de Verificação:"
	labelSecurityKey      = "Chave de Segurança:"
	labelIssueDate        = "Data de Emissão:"
	labelIssueTime        = "Hora de Emissão:"
)

// parseReceiptHTML extracts the issued-invoice data from the
// confirmation panel HTML. Number and verification code are mandatory;
// without both, the emission cannot be considered confirmed.
func parseReceiptHTML(html string) (*models.IssuedInvoice, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse confirmation panel: %w", err)
	}

	inv := &models.IssuedInvoice{
		Number:           labelValue(doc, labelNumber),
		VerificationCode: labelValue(doc, labelVerificationCode),
		SecurityKey:      labelValue(doc, labelSecurityKey),
		IssueDate:        labelValue(doc, labelIssueDate),
		IssueTime:        labelValue(doc, labelIssueTime),
	}

	if inv.Number == "" || inv.VerificationCode == "" {
		return nil, fmt.Errorf("invoice number or verification code not found")
	}
	return inv, nil
}

// labelValue finds an element whose text starts with label and returns
// the value next to it: next sibling, a highlighted child of the same
// container, or the container's next element (row/column layouts).
func labelValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find("label, span, td, th, div").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if !strings.HasPrefix(text, label) {
			return true
		}

		if v := strings.TrimSpace(sel.Next().Text()); v != "" {
			value = v
			return false
		}

		parent := sel.Parent()
		if v := strings.TrimSpace(parent.Find("span, strong, b").First().Text()); v != "" && !strings.HasPrefix(v, label) {
			value = v
			return false
		}

		if v := strings.TrimSpace(parent.Next().Text()); v != "" {
			value = v
			return false
		}
		return true
	})
	return value
}
