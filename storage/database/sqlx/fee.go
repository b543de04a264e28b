package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
)

const uniqueViolation = "23505"

type (
	classFeeRow struct {
		ClassID    string    `db:"class_id"`
		MonthlyFee int64     `db:"monthly_fee"`
		UpdatedAt  time.Time `db:"updated_at"`
	}

	recordRow struct {
		StudentID     string      `db:"student_id"`
		Year          int         `db:"year"`
		Month         string      `db:"month"`
		MonthlyFee    int64       `db:"monthly_fee"`
		OtherCharges  int64       `db:"other_charges"`
		PaidAmount    int64       `db:"paid_amount"`
		PreviousDue   int64       `db:"previous_month_due"`
		BalanceDue    int64       `db:"balance_due"`
		Status        string      `db:"status"`
		ReceiptNumber null.String `db:"receipt_number"`
		Version       int         `db:"version"`
		UpdatedAt     time.Time   `db:"updated_at"`
	}

	historyRow struct {
		Seq           int64     `db:"seq"`
		ReceiptNumber string    `db:"receipt_number"`
		StudentID     string    `db:"student_id"`
		Year          int       `db:"year"`
		Month         string    `db:"month"`
		MonthlyFee    int64     `db:"monthly_fee"`
		OtherCharges  int64     `db:"other_charges"`
		PreviousDue   int64     `db:"previous_month_due"`
		TotalDue      int64     `db:"total_due"`
		PaidAmount    int64     `db:"paid_amount"`
		Received      int64     `db:"amount_received"`
		BalanceDue    int64     `db:"balance_due"`
		Status        string    `db:"status"`
		UpdatedAt     time.Time `db:"updated_at"`
	}
)

func (r classFeeRow) classFee() fee.ClassFee {
	return fee.ClassFee{ClassID: r.ClassID, MonthlyFee: r.MonthlyFee, UpdatedAt: r.UpdatedAt.UTC()}
}

func (r recordRow) record() fee.Record {
	return fee.Record{
		StudentID:     r.StudentID,
		Year:          r.Year,
		Month:         fee.Month(r.Month),
		MonthlyFee:    r.MonthlyFee,
		OtherCharges:  r.OtherCharges,
		PaidAmount:    r.PaidAmount,
		PreviousDue:   r.PreviousDue,
		BalanceDue:    r.BalanceDue,
		Status:        fee.Status(r.Status),
		ReceiptNumber: r.ReceiptNumber.String,
		Version:       r.Version,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (r historyRow) entry() fee.HistoryEntry {
	return fee.HistoryEntry{
		ReceiptNumber: r.ReceiptNumber,
		StudentID:     r.StudentID,
		Year:          r.Year,
		Month:         fee.Month(r.Month),
		MonthlyFee:    r.MonthlyFee,
		OtherCharges:  r.OtherCharges,
		PreviousDue:   r.PreviousDue,
		TotalDue:      r.TotalDue,
		PaidAmount:    r.PaidAmount,
		Received:      r.Received,
		BalanceDue:    r.BalanceDue,
		Status:        fee.Status(r.Status),
		UpdatedAt:     r.UpdatedAt.UTC(),
		Seq:           r.Seq,
	}
}

type feeRepository struct {
	db core.DB
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(db core.DB) *feeRepository {
	return &feeRepository{db: db}
}

func (repo feeRepository) SetMonthlyFee(ctx context.Context, cf fee.ClassFee) (fee.ClassFee, error) {
	const q = `INSERT INTO class_fees (class_id, monthly_fee, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (class_id) DO UPDATE SET monthly_fee = EXCLUDED.monthly_fee, updated_at = EXCLUDED.updated_at
		RETURNING *`
	var row classFeeRow
	if err := sqlx.GetContext(ctx, repo.db, &row, q, cf.ClassID, cf.MonthlyFee, cf.UpdatedAt.UTC()); err != nil {
		return fee.ClassFee{}, errors.Wrap(err, "upserting class fee")
	}
	return row.classFee(), nil
}

func (repo feeRepository) GetMonthlyFee(ctx context.Context, classID string) (fee.ClassFee, error) {
	var row classFeeRow
	if err := sqlx.GetContext(ctx, repo.db, &row, `SELECT * FROM class_fees WHERE class_id = $1`, classID); err != nil {
		if err == sql.ErrNoRows {
			return fee.ClassFee{}, fee.ErrScheduleNotFound
		}
		return fee.ClassFee{}, errors.Wrap(err, "finding class fee")
	}
	return row.classFee(), nil
}

func (repo feeRepository) ListSchedule(ctx context.Context) ([]fee.ClassFee, error) {
	var rows []classFeeRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, `SELECT * FROM class_fees ORDER BY class_id`); err != nil {
		return nil, errors.Wrap(err, "listing class fees")
	}
	schedule := make([]fee.ClassFee, 0, len(rows))
	for _, r := range rows {
		schedule = append(schedule, r.classFee())
	}
	return schedule, nil
}

func (repo feeRepository) GetRecord(ctx context.Context, studentID string, p fee.Period) (fee.Record, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return fee.Record{}, fee.ErrRecordNotFound
	}
	const q = `SELECT * FROM fee_records WHERE student_id = $1 AND year = $2 AND month = $3`
	var row recordRow
	if err := sqlx.GetContext(ctx, repo.db, &row, q, studentID, p.Year, string(p.Month)); err != nil {
		if err == sql.ErrNoRows {
			return fee.Record{}, fee.ErrRecordNotFound
		}
		return fee.Record{}, errors.Wrap(err, "finding fee record")
	}
	return row.record(), nil
}

// CommitSettlement writes the record and the history entry in one transaction. The record write
// only matches when the stored version is the expected one.
func (repo feeRepository) CommitSettlement(ctx context.Context, c fee.Commit) (fee.HistoryEntry, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return fee.HistoryEntry{}, errors.Wrap(err, "beginning settlement transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rec := c.Record
	var res sql.Result
	if c.ExpectedVersion == 0 {
		const q = `INSERT INTO fee_records (student_id, year, month, monthly_fee, other_charges, paid_amount,
			previous_month_due, balance_due, status, receipt_number, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (student_id, year, month) DO NOTHING`
		res, err = tx.ExecContext(ctx, q,
			rec.StudentID, rec.Year, string(rec.Month), rec.MonthlyFee, rec.OtherCharges, rec.PaidAmount,
			rec.PreviousDue, rec.BalanceDue, string(rec.Status), null.StringFrom(rec.ReceiptNumber), rec.Version,
			rec.UpdatedAt.UTC())
	} else {
		const q = `UPDATE fee_records SET monthly_fee = $4, other_charges = $5, paid_amount = $6,
			previous_month_due = $7, balance_due = $8, status = $9, receipt_number = $10, version = $11, updated_at = $12
			WHERE student_id = $1 AND year = $2 AND month = $3 AND version = $13`
		res, err = tx.ExecContext(ctx, q,
			rec.StudentID, rec.Year, string(rec.Month), rec.MonthlyFee, rec.OtherCharges, rec.PaidAmount,
			rec.PreviousDue, rec.BalanceDue, string(rec.Status), null.StringFrom(rec.ReceiptNumber), rec.Version,
			rec.UpdatedAt.UTC(), c.ExpectedVersion)
	}
	if err != nil {
		return fee.HistoryEntry{}, errors.Wrap(err, "writing fee record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fee.HistoryEntry{}, errors.Wrap(err, "writing fee record")
	}
	if n == 0 {
		return fee.HistoryEntry{}, fee.ErrVersionConflict
	}

	e := c.Entry
	const q = `INSERT INTO fee_history (receipt_number, student_id, year, month, monthly_fee, other_charges,
		previous_month_due, total_due, paid_amount, amount_received, balance_due, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq`
	err = tx.QueryRowxContext(ctx, q,
		e.ReceiptNumber, e.StudentID, e.Year, string(e.Month), e.MonthlyFee, e.OtherCharges,
		e.PreviousDue, e.TotalDue, e.PaidAmount, e.Received, e.BalanceDue, string(e.Status), e.UpdatedAt.UTC(),
	).Scan(&e.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return fee.HistoryEntry{}, fee.ErrReceiptExists
		}
		return fee.HistoryEntry{}, errors.Wrap(err, "appending history entry")
	}

	if err = tx.Commit(); err != nil {
		return fee.HistoryEntry{}, errors.Wrap(err, "committing settlement")
	}
	return e, nil
}

func (repo feeRepository) ListHistory(ctx context.Context, studentID string) ([]fee.HistoryEntry, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return []fee.HistoryEntry{}, nil
	}
	var rows []historyRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, `SELECT * FROM fee_history WHERE student_id = $1 ORDER BY seq`, studentID); err != nil {
		return nil, errors.Wrap(err, "listing fee history")
	}
	entries := make([]fee.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (repo feeRepository) GetHistoryEntry(ctx context.Context, studentID, receiptNumber string) (fee.HistoryEntry, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return fee.HistoryEntry{}, fee.ErrReceiptNotFound
	}
	const q = `SELECT * FROM fee_history WHERE student_id = $1 AND receipt_number = $2`
	var row historyRow
	if err := sqlx.GetContext(ctx, repo.db, &row, q, studentID, receiptNumber); err != nil {
		if err == sql.ErrNoRows {
			return fee.HistoryEntry{}, fee.ErrReceiptNotFound
		}
		return fee.HistoryEntry{}, errors.Wrap(err, "finding history entry")
	}
	return row.entry(), nil
}

func (repo feeRepository) ReceiptExists(ctx context.Context, receiptNumber string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS (SELECT 1 FROM fee_history WHERE receipt_number = $1)`
	if err := sqlx.GetContext(ctx, repo.db, &exists, q, receiptNumber); err != nil {
		return false, errors.Wrap(err, "checking receipt number")
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
