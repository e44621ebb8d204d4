// Package sepaqr builds EPC069-12 ("GiroCode") credit transfer payloads and
// renders them as QR images that banking apps can scan.
package sepaqr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidIBAN       = errors.New("invalid_iban")
	ErrInvalidBIC        = errors.New("invalid_bic")
	ErrInvalidName       = errors.New("invalid_beneficiary_name")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidRemittance = errors.New("invalid_remittance")
)

const (
	maxNameLength       = 70
	maxRemittanceLength = 140
	imageSize           = 256
)

var (
	minAmount = decimal.RequireFromString("0.01")
	maxAmount = decimal.RequireFromString("999999999.99")
)

type Payment struct {
	Name       string
	IBAN       string
	BIC        string
	Amount     decimal.Decimal
	Remittance string
}

type QR struct {
	Payload string
	PNG     []byte
	// DataURI is the PNG as an inline image source for HTML views.
	DataURI string
}

func (t Payment) Validate() error {
	name := strings.TrimSpace(t.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return ErrInvalidName
	}
	if !ValidIBAN(t.IBAN) {
		return ErrInvalidIBAN
	}
	if t.BIC != "" && !validBIC(t.BIC) {
		return ErrInvalidBIC
	}
	if t.Amount.LessThan(minAmount) || t.Amount.GreaterThan(maxAmount) {
		return ErrInvalidAmount
	}
	if utf8.RuneCountInString(t.Remittance) > maxRemittanceLength {
		return ErrInvalidRemittance
	}
	return nil
}

// Payload returns the newline separated EPC text in version 002, UTF-8.
func (t Payment) Payload() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	lines := []string{
		"BCD",
		"002",
		"1",
		"SCT",
		strings.ToUpper(strings.TrimSpace(t.BIC)),
		strings.TrimSpace(t.Name),
		normalizeIBAN(t.IBAN),
		"EUR" + t.Amount.StringFixed(2),
		"",
		"",
		strings.TrimSpace(t.Remittance),
	}
	return strings.Join(lines, "\n"), nil
}

// Generate validates t and renders its payload as a PNG QR code.
func Generate(t Payment) (QR, error) {
	payload, err := t.Payload()
	if err != nil {
		return QR{}, err
	}

	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return QR{}, fmt.Errorf("encode qr: %w", err)
	}
	scaled, err := barcode.Scale(code, imageSize, imageSize)
	if err != nil {
		return QR{}, fmt.Errorf("scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return QR{}, fmt.Errorf("encode png: %w", err)
	}
	return QR{
		Payload: payload,
		PNG:     buf.Bytes(),
		DataURI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func normalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}

// ValidIBAN checks length, character set and the ISO 7064 mod-97 checksum.
func ValidIBAN(iban string) bool {
	iban = normalizeIBAN(iban)
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	for i, r := range iban {
		switch {
		case i < 2 && (r < 'A' || r > 'Z'):
			return false
		case i >= 2 && i < 4 && (r < '0' || r > '9'):
			return false
		case (r < 'A' || r > 'Z') && (r < '0' || r > '9'):
			return false
		}
	}

	rearranged := iban[4:] + iban[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		if r >= 'A' && r <= 'Z' {
			digits.WriteString(fmt.Sprint(int(r-'A') + 10))
			continue
		}
		digits.WriteRune(r)
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

func validBIC(bic string) bool {
	bic = strings.ToUpper(strings.TrimSpace(bic))
	if len(bic) != 8 && len(bic) != 11 {
		return false
	}
	for i, r := range bic {
		alpha := r >= 'A' && r <= 'Z'
		digit := r >= '0' && r <= '9'
		if i < 6 && !alpha {
			return false
		}
		if i >= 6 && !alpha && !digit {
			return false
		}
	}
	return true
}
