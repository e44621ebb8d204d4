package pdf

import (
	"context"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type MarotoRenderer struct{}

func New() Renderer {
	return &MarotoRenderer{}
}

func newDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func (r *MarotoRenderer) RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error) {
	m := newDocument()

	title := doc.Title
	if title == "" {
		title = "Invoice"
	}
	m.AddRow(12,
		text.NewCol(8, title, props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, doc.Status, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}),
	)

	meta := col.New(6).Add(
		text.New("Number: "+doc.Number, props.Text{Top: 0}),
		text.New("Date of issue: "+doc.IssueDate, props.Text{Top: 4}),
	)
	if doc.DueDate != "" {
		meta.Add(text.New("Date due: "+doc.DueDate, props.Text{Top: 8}))
	}
	if doc.Reference != "" {
		meta.Add(text.New("Reference: "+doc.Reference, props.Text{Top: 12}))
	}
	m.AddRow(20, meta, col.New(6))

	m.AddRow(32,
		partyCol(6, "From", doc.Seller),
		partyCol(6, "Bill to", doc.BillTo),
	)

	m.AddRow(8,
		text.NewCol(5, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(1, "VAT", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range doc.Lines {
		m.AddRow(8,
			text.NewCol(5, item.Description, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(1, item.VatRate, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	totalRow(m, "Net", doc.Net+" "+doc.Currency, false)
	if doc.ReverseCharge {
		totalRow(m, "VAT", "reverse charge", false)
	} else {
		totalRow(m, "VAT", doc.Vat+" "+doc.Currency, false)
	}
	totalRow(m, "Total", doc.Gross+" "+doc.Currency, true)

	if doc.BankDetails != "" || doc.QRPayload != "" {
		payment := []core.Col{text.NewCol(8, doc.BankDetails, props.Text{Size: 9, Top: 4})}
		if doc.QRPayload != "" {
			payment = append(payment, code.NewQrCol(4, doc.QRPayload, props.Rect{Center: true, Percent: 90}))
		} else {
			payment = append(payment, col.New(4))
		}
		m.AddRow(40, payment...)
	}

	generated, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return generated.GetBytes(), nil
}

func partyCol(size int, label string, p Party) core.Col {
	c := col.New(size).Add(
		text.New(label, props.Text{Style: fontstyle.Bold, Size: 9}),
		text.New(p.Name, props.Text{Top: 5, Size: 9}),
		text.New(p.Address, props.Text{Top: 9, Size: 9}),
		text.New(p.Email, props.Text{Top: 17, Size: 9}),
	)
	if p.VatID != "" {
		c.Add(text.New("VAT ID: "+p.VatID, props.Text{Top: 21, Size: 9}))
	}
	return c
}

func totalRow(m core.Maroto, label, value string, bold bool) {
	style := fontstyle.Normal
	if bold {
		style = fontstyle.Bold
	}
	m.AddRow(7,
		col.New(7),
		text.NewCol(2, label, props.Text{Size: 9, Style: style}),
		text.NewCol(3, value, props.Text{Size: 9, Style: style, Align: align.Right}),
	)
}
