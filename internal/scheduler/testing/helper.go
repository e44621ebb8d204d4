// Package testing moves persisted billing state back in time so scheduler
// jobs can be exercised without waiting for real periods to elapse.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TimeAccelerator rewrites contract and invoice timestamps.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// BackdateContract shifts every period anchor of a contract and the
// windows of its positions into the past.
func (ta *TimeAccelerator) BackdateContract(ctx context.Context, contractID snowflake.ID, by time.Duration) error {
	if err := ta.backdatePositions(ctx, contractID, by); err != nil {
		return err
	}
	var c struct {
		StartedAt     *time.Time
		LastInvoiceAt *time.Time
		CancelledTo   *time.Time
	}
	err := ta.db.WithContext(ctx).Raw(
		`SELECT started_at, last_invoice_at, cancelled_to FROM contracts WHERE id = ?`,
		contractID,
	).Scan(&c).Error
	if err != nil {
		return err
	}
	return ta.db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET started_at = ?, last_invoice_at = ?, cancelled_to = ?
		 WHERE id = ?`,
		shift(c.StartedAt, by),
		shift(c.LastInvoiceAt, by),
		shift(c.CancelledTo, by),
		contractID,
	).Error
}

func (ta *TimeAccelerator) backdatePositions(ctx context.Context, contractID snowflake.ID, by time.Duration) error {
	var rows []struct {
		ID        snowflake.ID
		StartedAt *time.Time
		EndedAt   *time.Time
	}
	err := ta.db.WithContext(ctx).Raw(
		`SELECT id, started_at, ended_at FROM contract_positions WHERE contract_id = ?`,
		contractID,
	).Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, r := range rows {
		err := ta.db.WithContext(ctx).Exec(
			`UPDATE contract_positions SET started_at = ?, ended_at = ? WHERE id = ?`,
			shift(r.StartedAt, by),
			shift(r.EndedAt, by),
			r.ID,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// MakeOverdue sets an invoice's due date the given number of days before now.
func (ta *TimeAccelerator) MakeOverdue(ctx context.Context, invoiceID snowflake.ID, now time.Time, days int) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE invoices SET due_at = ? WHERE id = ?`,
		now.AddDate(0, 0, -days),
		invoiceID,
	).Error
}

// ContractInfo shows the billing anchor of a contract for debugging.
type ContractInfo struct {
	ID            snowflake.ID
	TypeID        snowflake.ID
	StartedAt     *time.Time
	LastInvoiceAt *time.Time
	CancelledTo   *time.Time
}

func (ta *TimeAccelerator) GetContractInfo(ctx context.Context, contractID snowflake.ID) (*ContractInfo, error) {
	var info ContractInfo
	err := ta.db.WithContext(ctx).Raw(
		`SELECT id, type_id, started_at, last_invoice_at, cancelled_to
		 FROM contracts
		 WHERE id = ?`,
		contractID,
	).Scan(&info).Error
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func shift(t *time.Time, by time.Duration) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Add(-by)
	return &v
}
