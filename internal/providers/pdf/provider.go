package pdf

import "context"

// Renderer turns billing documents into PDF bytes.
type Renderer interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error)
	RenderReminder(ctx context.Context, doc ReminderDocument) ([]byte, error)
}

type Party struct {
	Name    string
	Address string
	Email   string
	VatID   string
}

type Line struct {
	Description string
	Quantity    string
	UnitPrice   string
	VatRate     string
	Amount      string
}

type InvoiceDocument struct {
	Title         string
	Number        string
	Reference     string
	IssueDate     string
	DueDate       string
	Status        string
	Seller        Party
	BillTo        Party
	Lines         []Line
	Net           string
	Vat           string
	Gross         string
	Currency      string
	ReverseCharge bool
	BankDetails   string
	// QRPayload is the EPC payment text. The QR block is omitted when empty.
	QRPayload string
}

type ReminderDocument struct {
	Number        string
	InvoiceNumber string
	IssueDate     string
	InvoiceDue    string
	NewDueDate    string
	Seller        Party
	BillTo        Party
	OpenAmount    string
	Fee           string
	Total         string
	Currency      string
	Level         int
	BankDetails   string
}

type NoOpRenderer struct{}

func (NoOpRenderer) RenderInvoice(context.Context, InvoiceDocument) ([]byte, error) {
	return []byte("%PDF-1.3\n%noop\n"), nil
}

func (NoOpRenderer) RenderReminder(context.Context, ReminderDocument) ([]byte, error) {
	return []byte("%PDF-1.3\n%noop\n"), nil
}
