package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fakturo/internal/actor"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/invoice/format"
	"github.com/smallbiznis/fakturo/internal/notification"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	"github.com/smallbiznis/fakturo/internal/providers/email"
	"github.com/smallbiznis/fakturo/internal/providers/pdf"
	"github.com/smallbiznis/fakturo/internal/providers/sepaqr"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	currency   = "EUR"
	dateLayout = "2006-01-02"
)

func (s *Service) Issue(ctx context.Context, tx *gorm.DB, req invoicedomain.IssueRequest) (*invoicedomain.Invoice, error) {
	switch req.Status {
	case invoicedomain.StatusUnpaid, invoicedomain.StatusPaid, invoicedomain.StatusRefund,
		invoicedomain.StatusRefunded, invoicedomain.StatusRevoked:
	default:
		return nil, invoicedomain.ErrInvalidStatus
	}
	if len(req.Positions) == 0 {
		return nil, invoicedomain.ErrMissingPositions
	}
	typ, err := s.GetType(ctx, tx, req.TypeID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	inv := &invoicedomain.Invoice{
		ID:            s.genID.Generate(),
		UserID:        req.UserID,
		TypeID:        req.TypeID,
		ContractID:    req.ContractID,
		OriginalID:    req.OriginalID,
		Status:        req.Status,
		ReverseCharge: req.ReverseCharge,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.invoicerepo.WithTrx(tx).Create(ctx, inv); err != nil {
		return nil, err
	}

	rows := make([]*invoicedomain.InvoicePosition, 0, len(req.Positions))
	for _, p := range req.Positions {
		rows = append(rows, &invoicedomain.InvoicePosition{
			ID:        s.genID.Generate(),
			InvoiceID: inv.ID,
			Position:  p.Snapshot(),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := s.positionrepo.WithTrx(tx).BatchCreate(ctx, rows); err != nil {
		return nil, err
	}
	for _, r := range rows {
		inv.Positions = append(inv.Positions, *r)
	}

	if err := s.finalize(ctx, tx, inv, typ); err != nil {
		return nil, err
	}
	if err := s.AppendHistory(ctx, tx, inv, req.Actor, invoicedomain.ActionCreate, map[string]any{
		"number": *inv.Number,
	}); err != nil {
		return nil, err
	}
	s.metrics.IncInvoiceIssued(string(inv.Status))
	return inv, nil
}

// finalize numbers, archives and renders inv, then persists those fields
// together with its current status.
func (s *Service) finalize(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice, typ *invoicedomain.InvoiceType) error {
	now := s.clock.Now()
	number, err := s.nextNumber(ctx, tx, now)
	if err != nil {
		return err
	}
	due := now.AddDate(0, 0, typ.Period)
	inv.Number = &number
	inv.ArchivedAt = &now
	inv.DueAt = &due
	inv.UpdatedAt = now

	doc, err := s.document(ctx, tx, inv)
	if err != nil {
		return err
	}
	data, err := s.renderer.RenderInvoice(ctx, doc)
	if err != nil {
		return fmt.Errorf("render invoice %s: %w", number, err)
	}
	f, err := s.files.Store(ctx, tx, filedomain.FileInput{
		Name:   number + ".pdf",
		Data:   data,
		Mime:   "application/pdf",
		UserID: inv.UserID,
		Folder: filedomain.FolderInvoices,
	})
	if err != nil {
		return err
	}
	inv.FileID = &f.ID

	return s.invoicerepo.WithTrx(tx).Update(ctx, inv.ID, map[string]any{
		"status":      inv.Status,
		"number":      number,
		"archived_at": now,
		"due_at":      due,
		"file_id":     f.ID,
		"updated_at":  now,
	})
}

// nextNumber takes the next value of the yearly sequence under a row lock.
func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB, at time.Time) (string, error) {
	year := at.Year()
	var seq invoicedomain.InvoiceSequence
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("year = ?", year).
		Take(&seq).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		seq = invoicedomain.InvoiceSequence{Year: year, NextNumber: 1, UpdatedAt: at}
		if err := tx.WithContext(ctx).Create(&seq).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return s.nextNumber(ctx, tx, at)
			}
			return "", err
		}
	case err != nil:
		return "", err
	}

	n := seq.NextNumber
	err = tx.WithContext(ctx).
		Model(&invoicedomain.InvoiceSequence{}).
		Where("year = ?", year).
		Updates(map[string]any{"next_number": n + 1, "updated_at": at}).Error
	if err != nil {
		return "", err
	}
	return format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, at, n)
}

func (s *Service) document(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice) (pdf.InvoiceDocument, error) {
	u, err := s.userrepo.WithTrx(tx).FindOne(ctx, &userdomain.User{ID: inv.UserID})
	if err != nil {
		return pdf.InvoiceDocument{}, err
	}
	if u == nil {
		return pdf.InvoiceDocument{}, userdomain.ErrNotFound
	}

	totals := inv.Totals().Display()
	doc := pdf.InvoiceDocument{
		Title:         documentTitle(inv.Status),
		Number:        deref(inv.Number),
		IssueDate:     formatDate(inv.ArchivedAt),
		Status:        strings.ToUpper(string(inv.Status)),
		Seller:        pdf.Party{Name: s.seller},
		BillTo:        pdf.Party{Name: u.DisplayName(), Address: u.Address, Email: u.Email, VatID: u.VatID},
		Net:           totals.Net.StringFixed(2),
		Vat:           totals.Vat.StringFixed(2),
		Gross:         totals.Gross.StringFixed(2),
		Currency:      currency,
		ReverseCharge: inv.ReverseCharge,
	}
	if inv.Status == invoicedomain.StatusUnpaid {
		doc.DueDate = formatDate(inv.DueAt)
	}
	if inv.OriginalID != nil {
		if orig, err := s.invoicerepo.WithTrx(tx).FindOne(ctx, &invoicedomain.Invoice{ID: *inv.OriginalID}); err == nil && orig != nil {
			doc.Reference = deref(orig.Number)
		}
	}
	for _, p := range inv.Positions {
		doc.Lines = append(doc.Lines, pdf.Line{
			Description: lineText(p.Position),
			Quantity:    p.Quantity.String(),
			UnitPrice:   p.Amount.StringFixed(2),
			VatRate:     p.VatPercentage.String() + "%",
			Amount:      p.NetSum().StringFixed(2),
		})
	}
	if s.sepa.IBAN != "" {
		doc.BankDetails = fmt.Sprintf("%s, IBAN %s", s.seller, s.sepa.IBAN)
		if s.sepa.BIC != "" {
			doc.BankDetails += ", BIC " + s.sepa.BIC
		}
	}
	doc.QRPayload = s.paymentQR(inv, totals)
	return doc, nil
}

// paymentQR returns the EPC payload for unpaid invoices. It never fails the
// caller; an unusable amount or creditor simply means no QR on the document.
func (s *Service) paymentQR(inv *invoicedomain.Invoice, totals positiondomain.Sums) string {
	if inv.Status != invoicedomain.StatusUnpaid || s.sepa.IBAN == "" {
		return ""
	}
	qr, err := sepaqr.Generate(sepaqr.Payment{
		Name:       s.seller,
		IBAN:       s.sepa.IBAN,
		BIC:        s.sepa.BIC,
		Amount:     totals.Gross,
		Remittance: deref(inv.Number),
	})
	if err != nil {
		s.log.Warn("payment qr skipped",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("gross", totals.Gross.String()),
			zap.Error(err),
		)
		return ""
	}
	return qr.Payload
}

// Announce notifies the customer about an issued invoice with the PDF attached.
func (s *Service) Announce(ctx context.Context, inv *invoicedomain.Invoice) {
	if inv == nil || inv.Number == nil {
		return
	}
	var attachments []email.Attachment
	if inv.FileID != nil {
		f, data, err := s.files.Read(ctx, *inv.FileID)
		if err != nil {
			s.log.Warn("invoice attachment unavailable", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		} else {
			attachments = append(attachments, email.Attachment{Filename: f.Name, ContentType: f.Mime, Data: data})
		}
	}
	s.notifier.Send(ctx, notification.Event{
		Kind:   notification.KindInvoicePublished,
		UserID: inv.UserID,
		Data: map[string]any{
			"number": *inv.Number,
			"status": string(inv.Status),
			"gross":  inv.Totals().Display().Gross.StringFixed(2),
			"due_at": formatDate(inv.DueAt),
		},
		Attachments: attachments,
	})
}

func (s *Service) AppendHistory(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice, a actor.Actor, action invoicedomain.HistoryAction, meta map[string]any) error {
	row := &invoicedomain.InvoiceHistory{
		ID:        s.genID.Generate(),
		InvoiceID: inv.ID,
		ActorID:   a.CreatorID(),
		Action:    action,
		Status:    inv.Status,
		Metadata:  datatypes.JSONMap(meta),
		CreatedAt: s.clock.Now(),
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}
	return s.historyrepo.WithTrx(tx).Create(ctx, row)
}

// LatestArchived returns the contract's newest issued invoice. It returns nil
// when that invoice already has a refund or revocation, since nothing of its
// period is left to give back.
func (s *Service) LatestArchived(ctx context.Context, tx *gorm.DB, contractID snowflake.ID) (*invoicedomain.Invoice, error) {
	repo := s.invoicerepo.WithTrx(tx)
	inv, err := repo.FindOne(ctx,
		&invoicedomain.Invoice{ContractID: &contractID},
		option.WithCondition("archived_at IS NOT NULL"),
		option.WithIn("status", []invoicedomain.InvoiceStatus{invoicedomain.StatusUnpaid, invoicedomain.StatusPaid}),
		option.WithSortBy("archived_at", option.DESC),
		option.WithSortBy("id", option.DESC),
	)
	if err != nil || inv == nil {
		return nil, err
	}
	corrections, err := repo.Count(ctx, &invoicedomain.Invoice{OriginalID: &inv.ID})
	if err != nil || corrections > 0 {
		return nil, err
	}
	if err := s.loadPositions(ctx, tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func documentTitle(status invoicedomain.InvoiceStatus) string {
	switch status {
	case invoicedomain.StatusRefund, invoicedomain.StatusRefunded:
		return "Credit note"
	case invoicedomain.StatusRevoked:
		return "Revocation"
	default:
		return "Invoice"
	}
}

func lineText(p positiondomain.Position) string {
	if p.Description == "" {
		return p.Name
	}
	return p.Name + " - " + p.Description
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
