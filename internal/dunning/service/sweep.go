package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/invoice/format"
	"github.com/smallbiznis/fakturo/internal/notification"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	"github.com/smallbiznis/fakturo/internal/providers/email"
	"github.com/smallbiznis/fakturo/internal/providers/pdf"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	currency   = "EUR"
	dateLayout = "2006-01-02"
)

var decimalHundred = decimal.NewFromInt(100)

// uncorrected excludes invoices that already have a refund or revocation.
const uncorrected = "NOT EXISTS (SELECT 1 FROM invoices c WHERE c.original_id = invoices.id)"

type sent struct {
	invoice  *invoicedomain.Invoice
	rule     dunningdomain.InvoiceDunning
	reminder *dunningdomain.InvoiceReminder
	file     *filedomain.File
	pdf      []byte
}

func (s *Service) Sweep(ctx context.Context) (dunningdomain.SweepResult, error) {
	var res dunningdomain.SweepResult
	if !s.billing.Get().Dunning.Enabled {
		return res, nil
	}
	types, err := s.typerepo.Find(ctx, nil, option.WithSortBy("id", option.ASC))
	if err != nil {
		return res, err
	}

	var errs error
	for _, typ := range types {
		switch {
		case typ.Type == invoicedomain.TypeAutoRevoke:
			errs = multierr.Append(errs, s.revokeOverdue(ctx, typ, &res))
		case typ.Dunning:
			errs = multierr.Append(errs, s.remindOverdue(ctx, typ, &res))
		}
	}
	return res, errs
}

func (s *Service) overdue(ctx context.Context, typ *invoicedomain.InvoiceType, now time.Time) ([]*invoicedomain.Invoice, error) {
	return s.invoicerepo.Find(ctx,
		&invoicedomain.Invoice{TypeID: typ.ID, Status: invoicedomain.StatusUnpaid},
		option.WithCondition("archived_at IS NOT NULL"),
		option.WithCondition("due_at < ?", now),
		option.WithCondition(uncorrected),
		option.WithSortBy("id", option.ASC),
	)
}

func (s *Service) revokeOverdue(ctx context.Context, typ *invoicedomain.InvoiceType, res *dunningdomain.SweepResult) error {
	rows, err := s.overdue(ctx, typ, s.clock.Now())
	if err != nil {
		return err
	}
	var errs error
	for _, inv := range rows {
		if _, err := s.invoices.Refund(ctx, actor.System, inv.ID, invoicedomain.StatusRevoked); err != nil {
			if errors.Is(err, invoicedomain.ErrAlreadyRefunded) || errors.Is(err, invoicedomain.ErrWrongStatus) {
				continue
			}
			s.log.Error("auto revoke failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		res.Revoked++
	}
	return errs
}

func (s *Service) remindOverdue(ctx context.Context, typ *invoicedomain.InvoiceType, res *dunningdomain.SweepResult) error {
	rules, err := s.rules(ctx, s.db, typ.ID)
	if err != nil || len(rules) == 0 {
		return err
	}
	rows, err := s.overdue(ctx, typ, s.clock.Now())
	if err != nil {
		return err
	}

	var errs error
	for _, inv := range rows {
		out, err := s.remind(ctx, inv.ID, rules)
		if err != nil {
			s.log.Error("reminder failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if out == nil {
			continue
		}
		res.Reminders++
		s.metrics.IncReminder(string(typ.Type))
		s.log.Info("reminder sent",
			zap.String("invoice_id", out.invoice.ID.String()),
			zap.String("number", out.reminder.Number),
			zap.Int("level", out.reminder.Level),
		)
		s.announce(ctx, out)
		errs = multierr.Append(errs, s.escalate(ctx, out, res))
	}
	return errs
}

// pick returns the highest level whose delay has passed. Lower levels are
// skipped once a higher one applies.
func pick(rules []dunningdomain.InvoiceDunning, overdueDays int) (dunningdomain.InvoiceDunning, int, bool) {
	for i := len(rules) - 1; i >= 0; i-- {
		if rules[i].After <= overdueDays {
			return rules[i], i + 1, true
		}
	}
	return dunningdomain.InvoiceDunning{}, 0, false
}

func (s *Service) remind(ctx context.Context, invoiceID snowflake.ID, rules []dunningdomain.InvoiceDunning) (*sent, error) {
	var out *sent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.invoicerepo.WithTrx(tx).FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID}, option.ForUpdate(), option.WithPreload("Positions"))
		if err != nil || inv == nil {
			return err
		}
		now := s.clock.Now()
		if inv.Status != invoicedomain.StatusUnpaid || inv.DueAt == nil || !inv.DueAt.Before(now) {
			return nil
		}

		rule, level, ok := pick(rules, positiondomain.DaysBetween(*inv.DueAt, now))
		if !ok {
			return nil
		}
		done, err := s.reminderrepo.WithTrx(tx).Count(ctx, &dunningdomain.InvoiceReminder{InvoiceID: inv.ID, DunningID: rule.ID})
		if err != nil || done > 0 {
			return err
		}

		gross := inv.Totals().Display().Gross
		reminder := &dunningdomain.InvoiceReminder{
			ID:        s.genID.Generate(),
			InvoiceID: inv.ID,
			DunningID: rule.ID,
			Level:     level,
			Number:    format.ReminderNumber(deref(inv.Number), level),
			Fee:       rule.Fee(gross),
			DueAt:     now.AddDate(0, 0, rule.Period),
			CreatedAt: now,
		}

		doc, err := s.document(ctx, tx, inv, reminder, gross)
		if err != nil {
			return err
		}
		data, err := s.renderer.RenderReminder(ctx, doc)
		if err != nil {
			return fmt.Errorf("render reminder %s: %w", reminder.Number, err)
		}
		file, err := s.files.Store(ctx, tx, filedomain.FileInput{
			Name:   "reminder-" + reminder.Number + ".pdf",
			Data:   data,
			Mime:   "application/pdf",
			UserID: inv.UserID,
			Folder: filedomain.FolderReminders,
		})
		if err != nil {
			return err
		}
		reminder.FileID = &file.ID

		if err := s.reminderrepo.WithTrx(tx).Create(ctx, reminder); err != nil {
			return err
		}
		if err := s.invoices.AppendHistory(ctx, tx, inv, actor.System, invoicedomain.ActionRemind, map[string]any{
			"reminder_id": reminder.ID.String(),
			"level":       level,
			"fee":         reminder.Fee.StringFixed(2),
		}); err != nil {
			return err
		}
		out = &sent{invoice: inv, rule: rule, reminder: reminder, file: file, pdf: data}
		return nil
	})
	return out, err
}

func (s *Service) document(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice, r *dunningdomain.InvoiceReminder, gross decimal.Decimal) (pdf.ReminderDocument, error) {
	u, err := s.userrepo.WithTrx(tx).FindOne(ctx, &userdomain.User{ID: inv.UserID})
	if err != nil {
		return pdf.ReminderDocument{}, err
	}
	if u == nil {
		return pdf.ReminderDocument{}, userdomain.ErrNotFound
	}
	doc := pdf.ReminderDocument{
		Number:        r.Number,
		InvoiceNumber: deref(inv.Number),
		IssueDate:     r.CreatedAt.Format(dateLayout),
		InvoiceDue:    inv.DueAt.Format(dateLayout),
		NewDueDate:    r.DueAt.Format(dateLayout),
		Seller:        pdf.Party{Name: s.seller},
		BillTo:        pdf.Party{Name: u.DisplayName(), Address: u.Address, Email: u.Email, VatID: u.VatID},
		OpenAmount:    gross.StringFixed(2),
		Fee:           r.Fee.StringFixed(2),
		Total:         gross.Add(r.Fee).StringFixed(2),
		Currency:      currency,
		Level:         r.Level,
	}
	if s.sepa.IBAN != "" {
		doc.BankDetails = fmt.Sprintf("%s, IBAN %s", s.seller, s.sepa.IBAN)
	}
	return doc, nil
}

func (s *Service) announce(ctx context.Context, out *sent) {
	gross := out.invoice.Totals().Display().Gross
	s.notifier.Send(ctx, notification.Event{
		Kind:   notification.KindInvoiceReminder,
		UserID: out.invoice.UserID,
		Data: map[string]any{
			"number":      deref(out.invoice.Number),
			"invoice_due": out.invoice.DueAt.Format(dateLayout),
			"open":        gross.StringFixed(2),
			"fee":         out.reminder.Fee.StringFixed(2),
			"due_at":      out.reminder.DueAt.Format(dateLayout),
			"level":       out.reminder.Level,
		},
		Attachments: []email.Attachment{{
			Filename:    out.file.Name,
			ContentType: out.file.Mime,
			Data:        out.pdf,
		}},
	})
}

// escalate stops or cancels the contract behind the invoice. A contract that
// is already ending is left alone.
func (s *Service) escalate(ctx context.Context, out *sent, res *dunningdomain.SweepResult) error {
	id := out.invoice.ContractID
	if id == nil {
		return nil
	}
	var err error
	switch {
	case out.rule.CancelContractInstant:
		if _, err = s.contracts.Stop(ctx, actor.System, *id); err == nil {
			res.ContractsStopped++
		}
	case out.rule.CancelContractRegular:
		if _, err = s.contracts.Cancel(ctx, actor.System, *id); err == nil {
			res.ContractsCancelled++
		}
	}
	if errors.Is(err, contractdomain.ErrWrongStatus) {
		s.log.Debug("contract not escalated", zap.String("contract_id", id.String()), zap.Error(err))
		return nil
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
