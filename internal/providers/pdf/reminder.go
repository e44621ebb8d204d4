package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

func (r *MarotoRenderer) RenderReminder(ctx context.Context, doc ReminderDocument) ([]byte, error) {
	m := newDocument()

	m.AddRow(12,
		text.NewCol(12, fmt.Sprintf("Payment reminder %d", doc.Level), props.Text{Size: 18, Style: fontstyle.Bold}),
	)
	m.AddRow(20,
		col.New(6).Add(
			text.New("Reminder: "+doc.Number, props.Text{Top: 0}),
			text.New("Date: "+doc.IssueDate, props.Text{Top: 4}),
			text.New("Invoice: "+doc.InvoiceNumber, props.Text{Top: 8}),
			text.New("Originally due: "+doc.InvoiceDue, props.Text{Top: 12}),
		),
		col.New(6),
	)
	m.AddRow(32,
		partyCol(6, "From", doc.Seller),
		partyCol(6, "To", doc.BillTo),
	)
	m.AddRow(14,
		text.NewCol(12, "Our records show the invoice above is still unpaid. Please settle the open amount plus the reminder fee by "+doc.NewDueDate+".", props.Text{Size: 10}),
	)

	totalRow(m, "Open amount", doc.OpenAmount+" "+doc.Currency, false)
	totalRow(m, "Reminder fee", doc.Fee+" "+doc.Currency, false)
	totalRow(m, "Total due", doc.Total+" "+doc.Currency, true)

	if doc.BankDetails != "" {
		m.AddRow(20, text.NewCol(12, doc.BankDetails, props.Text{Size: 9, Top: 4, Align: align.Left}))
	}

	generated, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return generated.GetBytes(), nil
}
