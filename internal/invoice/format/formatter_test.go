package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	at := time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)

	got, err := FormatInvoiceNumber(DefaultInvoiceNumberTemplate, at, 17)
	require.NoError(t, err)
	assert.Equal(t, "2026-17", got)

	got, err = FormatInvoiceNumber("INV-{YY}{MM}{DD}-{SEQ5}", at, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-260409-00042", got)

	_, err = FormatInvoiceNumber("{YYYY}-{SEQ}", at, 0)
	assert.Error(t, err)
	_, err = FormatInvoiceNumber("{YYYY}-{NOPE}", at, 1)
	assert.Error(t, err)
	_, err = FormatInvoiceNumber("", at, 1)
	assert.Error(t, err)
}

func TestReminderNumber(t *testing.T) {
	assert.Equal(t, "2026-17-R2", ReminderNumber("2026-17", 2))
}
