package service

import (
	"context"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/authorization"
	"github.com/smallbiznis/fakturo/internal/clock"
	"github.com/smallbiznis/fakturo/internal/config"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	"github.com/smallbiznis/fakturo/internal/notification"
	"github.com/smallbiznis/fakturo/internal/observability/metrics"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	"github.com/smallbiznis/fakturo/internal/providers/pdf"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"github.com/smallbiznis/fakturo/pkg/db/option"
	"github.com/smallbiznis/fakturo/pkg/db/pagination"
	"github.com/smallbiznis/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var gridColumns = pagination.Columns{
	"id":          "id",
	"number":      "number",
	"status":      "status",
	"archived_at": "archived_at",
	"due_at":      "due_at",
	"created_at":  "created_at",
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Authz    authorization.Service
	Files    filedomain.Service
	Renderer pdf.Renderer
	Notifier notification.Sender
	Ledger   prepaiddomain.Ledger
	Metrics  *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	sepa     config.SEPAConfig
	seller   string
	authz    authorization.Service
	files    filedomain.Service
	renderer pdf.Renderer
	notifier notification.Sender
	ledger   prepaiddomain.Ledger
	metrics  *metrics.BillingMetrics

	invoicerepo  repository.Repository[invoicedomain.Invoice]
	positionrepo repository.Repository[invoicedomain.InvoicePosition]
	typerepo     repository.Repository[invoicedomain.InvoiceType]
	historyrepo  repository.Repository[invoicedomain.InvoiceHistory]
	discountrepo repository.Repository[positiondomain.Discount]
	userrepo     repository.Repository[userdomain.User]
}

func New(p Params) invoicedomain.Service {
	seller := p.Config.SEPA.CreditorName
	if seller == "" {
		seller = p.Config.AppName
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		sepa:     p.Config.SEPA,
		seller:   seller,
		authz:    p.Authz,
		files:    p.Files,
		renderer: p.Renderer,
		notifier: p.Notifier,
		ledger:   p.Ledger,
		metrics:  p.Metrics,

		invoicerepo:  repository.ProvideStore[invoicedomain.Invoice](p.DB),
		positionrepo: repository.ProvideStore[invoicedomain.InvoicePosition](p.DB),
		typerepo:     repository.ProvideStore[invoicedomain.InvoiceType](p.DB),
		historyrepo:  repository.ProvideStore[invoicedomain.InvoiceHistory](p.DB),
		discountrepo: repository.ProvideStore[positiondomain.Discount](p.DB),
		userrepo:     repository.ProvideStore[userdomain.User](p.DB),
	}
}

func (s *Service) CreateType(ctx context.Context, a actor.Actor, req invoicedomain.TypeRequest) (*invoicedomain.InvoiceType, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionCreate); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "", req.Period < 0:
		return nil, invoicedomain.ErrInvalidType
	}
	switch req.Type {
	case invoicedomain.TypeNormal, invoicedomain.TypeAutoRevoke, invoicedomain.TypePrepaid:
	default:
		return nil, invoicedomain.ErrInvalidType
	}

	now := s.clock.Now()
	t := &invoicedomain.InvoiceType{
		ID:         s.genID.Generate(),
		Name:       name,
		Type:       req.Type,
		Period:     req.Period,
		Dunning:    req.Dunning,
		DiscountID: req.DiscountID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.typerepo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) ListTypes(ctx context.Context, a actor.Actor) ([]invoicedomain.InvoiceType, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionView); err != nil {
		return nil, err
	}
	rows, err := s.typerepo.Find(ctx, nil, option.WithSortBy("name", option.ASC))
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.InvoiceType, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) GetType(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.InvoiceType, error) {
	t, err := s.typerepo.WithTrx(tx).FindOne(ctx, &invoicedomain.InvoiceType{ID: id})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, invoicedomain.ErrTypeNotFound
	}
	return t, nil
}

func (s *Service) CreateTemplate(ctx context.Context, a actor.Actor, req invoicedomain.CreateTemplateRequest) (*invoicedomain.Invoice, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionCreate); err != nil {
		return nil, err
	}

	var inv *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.GetType(ctx, tx, req.TypeID); err != nil {
			return err
		}
		if err := s.requireUser(ctx, tx, req.UserID); err != nil {
			return err
		}

		now := s.clock.Now()
		inv = &invoicedomain.Invoice{
			ID:            s.genID.Generate(),
			UserID:        req.UserID,
			TypeID:        req.TypeID,
			ContractID:    req.ContractID,
			Status:        invoicedomain.StatusTemplate,
			ReverseCharge: req.ReverseCharge,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, inv); err != nil {
			return err
		}
		return s.AppendHistory(ctx, tx, inv, a, invoicedomain.ActionCreate, nil)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) AddPosition(ctx context.Context, a actor.Actor, invoiceID snowflake.ID, req invoicedomain.PositionRequest) (*invoicedomain.InvoicePosition, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionUpdate); err != nil {
		return nil, err
	}

	var row *invoicedomain.InvoicePosition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockTemplate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		line, err := s.buildPosition(ctx, tx, inv, req)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		row = &invoicedomain.InvoicePosition{
			ID:        s.genID.Generate(),
			InvoiceID: inv.ID,
			Position:  line,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.positionrepo.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) UpdatePosition(ctx context.Context, a actor.Actor, invoiceID, positionID snowflake.ID, req invoicedomain.PositionRequest) (*invoicedomain.InvoicePosition, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionUpdate); err != nil {
		return nil, err
	}

	var row *invoicedomain.InvoicePosition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockTemplate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		repo := s.positionrepo.WithTrx(tx)
		row, err = repo.FindOne(ctx, &invoicedomain.InvoicePosition{ID: positionID, InvoiceID: inv.ID})
		if err != nil {
			return err
		}
		if row == nil {
			return invoicedomain.ErrPositionNotFound
		}
		line, err := s.buildPosition(ctx, tx, inv, req)
		if err != nil {
			return err
		}
		row.Position = line
		row.UpdatedAt = s.clock.Now()
		return repo.Save(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) RemovePosition(ctx context.Context, a actor.Actor, invoiceID, positionID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionUpdate); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockTemplate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		repo := s.positionrepo.WithTrx(tx)
		row, err := repo.FindOne(ctx, &invoicedomain.InvoicePosition{ID: positionID, InvoiceID: inv.ID})
		if err != nil {
			return err
		}
		if row == nil {
			return invoicedomain.ErrPositionNotFound
		}
		return repo.Delete(ctx, row.ID)
	})
}

func (s *Service) Publish(ctx context.Context, a actor.Actor, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionInvoicePublish); err != nil {
		return nil, err
	}

	var inv *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = s.lockTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.loadPositions(ctx, tx, inv); err != nil {
			return err
		}
		if len(inv.Positions) == 0 {
			return invoicedomain.ErrMissingPositions
		}
		typ, err := s.GetType(ctx, tx, inv.TypeID)
		if err != nil {
			return err
		}
		inv.Status = invoicedomain.StatusUnpaid
		if err := s.finalize(ctx, tx, inv, typ); err != nil {
			return err
		}
		return s.AppendHistory(ctx, tx, inv, a, invoicedomain.ActionPublish, map[string]any{"number": *inv.Number})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceIssued(string(inv.Status))
	s.log.Info("invoice published", zap.String("invoice_id", inv.ID.String()), zap.String("number", *inv.Number))
	s.Announce(ctx, inv)
	return inv, nil
}

func (s *Service) Pay(ctx context.Context, a actor.Actor, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return s.togglePaid(ctx, a, id, invoicedomain.StatusUnpaid, invoicedomain.StatusPaid, invoicedomain.ActionPay)
}

func (s *Service) Unpay(ctx context.Context, a actor.Actor, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return s.togglePaid(ctx, a, id, invoicedomain.StatusPaid, invoicedomain.StatusUnpaid, invoicedomain.ActionUnpay)
}

// togglePaid moves between unpaid and paid. Top-up invoices of prepaid types
// credit the ledger on pay and take the amount back on unpay.
func (s *Service) togglePaid(ctx context.Context, a actor.Actor, id snowflake.ID, from, to invoicedomain.InvoiceStatus, action invoicedomain.HistoryAction) (*invoicedomain.Invoice, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionInvoicePay); err != nil {
		return nil, err
	}

	var inv *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != from {
			return invoicedomain.ErrWrongStatus
		}
		typ, err := s.GetType(ctx, tx, inv.TypeID)
		if err != nil {
			return err
		}

		if typ.Type == invoicedomain.TypePrepaid {
			if err := s.loadPositions(ctx, tx, inv); err != nil {
				return err
			}
			if err := s.settleTopUp(ctx, tx, a, inv, action); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		if err := s.invoicerepo.WithTrx(tx).Update(ctx, inv.ID, map[string]any{
			"status":     to,
			"updated_at": now,
		}); err != nil {
			return err
		}
		inv.Status = to
		inv.UpdatedAt = now
		return s.AppendHistory(ctx, tx, inv, a, action, nil)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("invoice status changed",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("status", string(inv.Status)),
		zap.String("actor", a.String()),
	)
	return inv, nil
}

func (s *Service) settleTopUp(ctx context.Context, tx *gorm.DB, a actor.Actor, inv *invoicedomain.Invoice, action invoicedomain.HistoryAction) error {
	gross := inv.Totals().Display().Gross
	if !gross.IsPositive() {
		return nil
	}
	invoiceID := inv.ID
	entry := prepaiddomain.Entry{
		UserID:    inv.UserID,
		Creator:   a,
		Amount:    gross,
		Method:    prepaiddomain.MethodInvoice,
		InvoiceID: &invoiceID,
	}
	if inv.Number != nil {
		entry.TransactionID = *inv.Number
	}
	if action == invoicedomain.ActionPay {
		_, err := s.ledger.Credit(ctx, tx, entry)
		return err
	}
	_, err := s.ledger.Reverse(ctx, tx, entry)
	return err
}

func (s *Service) Refund(ctx context.Context, a actor.Actor, id snowflake.ID, target invoicedomain.InvoiceStatus) (*invoicedomain.Invoice, error) {
	if target != invoicedomain.StatusRefunded && target != invoicedomain.StatusRevoked {
		return nil, invoicedomain.ErrInvalidStatus
	}
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionInvoiceRefund); err != nil {
		return nil, err
	}

	var created *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = s.refundTx(ctx, tx, a, id, target)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceIssued(string(created.Status))
	s.log.Info("invoice corrected",
		zap.String("source_id", id.String()),
		zap.String("invoice_id", created.ID.String()),
		zap.String("status", string(target)),
	)
	return created, nil
}

func (s *Service) refundTx(ctx context.Context, tx *gorm.DB, a actor.Actor, id snowflake.ID, target invoicedomain.InvoiceStatus) (*invoicedomain.Invoice, error) {
	source, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !source.IsArchived() || source.Status == invoicedomain.StatusTemplate || source.Status.IsCorrection() {
		return nil, invoicedomain.ErrWrongStatus
	}
	linked, err := s.invoicerepo.WithTrx(tx).Count(ctx, &invoicedomain.Invoice{OriginalID: &source.ID})
	if err != nil {
		return nil, err
	}
	if linked > 0 {
		return nil, invoicedomain.ErrAlreadyRefunded
	}
	if err := s.loadPositions(ctx, tx, source); err != nil {
		return nil, err
	}

	lines := make([]positiondomain.Position, 0, len(source.Positions))
	for _, p := range source.Positions {
		lines = append(lines, p.Position.Negate())
	}
	originalID := source.ID
	created, err := s.Issue(ctx, tx, invoicedomain.IssueRequest{
		Actor:         a,
		UserID:        source.UserID,
		TypeID:        source.TypeID,
		ContractID:    source.ContractID,
		OriginalID:    &originalID,
		Status:        target,
		ReverseCharge: source.ReverseCharge,
		Positions:     lines,
	})
	if err != nil {
		return nil, err
	}

	action := invoicedomain.ActionRefund
	if target == invoicedomain.StatusRevoked {
		action = invoicedomain.ActionRevoke
	}
	if err := s.AppendHistory(ctx, tx, source, a, action, map[string]any{
		"correction_id": created.ID.String(),
	}); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, a actor.Actor, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionView); err != nil {
		return nil, err
	}
	inv, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: id})
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrNotFound
	}
	if !a.CanAccess(inv.UserID) {
		return nil, invoicedomain.ErrNotFound
	}
	if err := s.loadPositions(ctx, s.db, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, a actor.Actor, grid pagination.GridRequest) (*pagination.GridResponse[invoicedomain.Invoice], error) {
	if err := s.authz.Authorize(ctx, a, authorization.ObjectInvoice, authorization.ActionView); err != nil {
		return nil, err
	}
	filter := &invoicedomain.Invoice{}
	if !a.IsPrivileged() {
		filter.UserID = a.UserID
	}

	return s.invoicerepo.Grid(ctx, filter, grid, gridColumns, option.WithPreload("Positions"))
}

func (s *Service) History(ctx context.Context, a actor.Actor, id snowflake.ID) ([]invoicedomain.InvoiceHistory, error) {
	inv, err := s.Get(ctx, a, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.historyrepo.Find(ctx, &invoicedomain.InvoiceHistory{InvoiceID: inv.ID}, option.WithSortBy("id", option.ASC))
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.InvoiceHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) Download(ctx context.Context, a actor.Actor, id snowflake.ID) (*filedomain.File, io.ReadCloser, error) {
	inv, err := s.Get(ctx, a, id)
	if err != nil {
		return nil, nil, err
	}
	if inv.FileID == nil {
		return nil, nil, invoicedomain.ErrNoFile
	}
	return s.files.Open(ctx, a, *inv.FileID)
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.invoicerepo.WithTrx(tx).FindOne(ctx, &invoicedomain.Invoice{ID: id}, option.ForUpdate())
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return inv, nil
}

// lockTemplate loads an invoice whose lines may still change.
func (s *Service) lockTemplate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != invoicedomain.StatusTemplate {
		return nil, invoicedomain.ErrImmutable
	}
	return inv, nil
}

func (s *Service) loadPositions(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice) error {
	rows, err := s.positionrepo.WithTrx(tx).Find(ctx,
		&invoicedomain.InvoicePosition{InvoiceID: inv.ID},
		option.WithSortBy("id", option.ASC),
	)
	if err != nil {
		return err
	}
	inv.Positions = make([]invoicedomain.InvoicePosition, 0, len(rows))
	for _, r := range rows {
		inv.Positions = append(inv.Positions, *r)
	}
	return nil
}

func (s *Service) buildPosition(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice, req invoicedomain.PositionRequest) (positiondomain.Position, error) {
	qty := req.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	line := positiondomain.Position{
		Name:          strings.TrimSpace(req.Name),
		Description:   strings.TrimSpace(req.Description),
		Amount:        req.Amount.Round(positiondomain.AmountScale),
		VatPercentage: req.VatPercentage,
		Quantity:      qty,
	}
	if err := line.Validate(); err != nil {
		return line, err
	}

	discountID := req.DiscountID
	if discountID == nil {
		typ, err := s.GetType(ctx, tx, inv.TypeID)
		if err != nil {
			return line, err
		}
		discountID = typ.DiscountID
	}
	if discountID != nil {
		d, err := s.discountrepo.WithTrx(tx).FindOne(ctx, &positiondomain.Discount{ID: *discountID})
		if err != nil {
			return line, err
		}
		if d == nil {
			return line, positiondomain.ErrDiscountNotFound
		}
		line.ApplyDiscount(d)
	}
	return line, nil
}

func (s *Service) requireUser(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	u, err := s.userrepo.WithTrx(tx).FindOne(ctx, &userdomain.User{ID: id})
	if err != nil {
		return err
	}
	if u == nil {
		return userdomain.ErrNotFound
	}
	return nil
}
