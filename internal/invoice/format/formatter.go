// Package format renders document numbers.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultInvoiceNumberTemplate yields numbers such as 2026-17.
const DefaultInvoiceNumberTemplate = "{YYYY}-{SEQ}"

var tokenRe = regexp.MustCompile(`\{([A-Z]+)(\d*)\}`)

// FormatInvoiceNumber renders template for the issue time and a per-year
// sequence. Supported tokens are {YYYY}, {YY}, {MM}, {DD}, {SEQ} and {SEQn}
// (zero padded to n digits).
func FormatInvoiceNumber(template string, issuedAt time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	var unknown []string
	out := tokenRe.ReplaceAllStringFunc(template, func(tok string) string {
		m := tokenRe.FindStringSubmatch(tok)
		name, width := m[1], m[2]
		if name == "SEQ" {
			if width == "" {
				return strconv.FormatInt(seq, 10)
			}
			n, _ := strconv.Atoi(width)
			return fmt.Sprintf("%0*d", n, seq)
		}
		if layout, ok := dateTokens[name]; ok && width == "" {
			return issuedAt.Format(layout)
		}
		unknown = append(unknown, tok)
		return tok
	})
	if len(unknown) > 0 || strings.ContainsAny(tokenRe.ReplaceAllString(out, ""), "{}") {
		return "", fmt.Errorf("unresolved token in invoice format %q", template)
	}
	return out, nil
}

var dateTokens = map[string]string{
	"YYYY": "2006",
	"YY":   "06",
	"MM":   "01",
	"DD":   "02",
}

// ReminderNumber derives the number of the n-th reminder for an invoice.
func ReminderNumber(invoiceNumber string, level int) string {
	return invoiceNumber + "-R" + strconv.Itoa(level)
}
