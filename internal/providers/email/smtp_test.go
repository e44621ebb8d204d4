package email

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/smallbiznis/fakturo/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestProvider(c *captured) *SMTPProvider {
	p := NewSMTP(config.SMTPConfig{Host: "mail.test", Port: 2525, From: "billing@test"})
	p.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return nil
	}
	return p
}

func TestSendTemplateWithAttachment(t *testing.T) {
	var c captured
	p := newTestProvider(&c)

	err := p.SendTemplate(context.Background(), []string{"jane@example.com"}, "invoice_published",
		map[string]any{"name": "Jane", "number": "2026-4", "gross": "119.00", "due_at": "2026-02-01"},
		Attachment{Filename: "2026-4.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.3")},
	)
	require.NoError(t, err)

	assert.Equal(t, "mail.test:2525", c.addr)
	assert.Equal(t, "billing@test", c.from)
	assert.Equal(t, []string{"jane@example.com"}, c.to)
	assert.Contains(t, c.msg, "Subject: Your new invoice")
	assert.Contains(t, c.msg, "Invoice 2026-4")
	assert.Contains(t, c.msg, `filename="2026-4.pdf"`)
}

func TestSendRequiresRecipients(t *testing.T) {
	var c captured
	err := newTestProvider(&c).Send(context.Background(), Message{Subject: "x"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestUnknownTemplate(t *testing.T) {
	var c captured
	err := newTestProvider(&c).SendTemplate(context.Background(), []string{"a@b.c"}, "nope", nil)
	assert.Error(t, err)
}
