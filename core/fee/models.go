package fee

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/feeledger/core"
)

var (
	// errors
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidYear      = errors.New("invalid year")
	ErrStudentNotFound  = errors.New("student not found")
	ErrRecordNotFound   = errors.New("fee record not found")
	ErrScheduleNotFound = errors.New("no fee configured for this class")
	ErrReceiptNotFound  = errors.New("no receipt available")
	ErrReceiptExists    = errors.New("receipt number already used")
	ErrVersionConflict  = errors.New("fee record was modified concurrently")
	ErrCommitFailed     = errors.New("settlement not recorded, please retry")
)

// CommitError reports a settlement that was not recorded. None of its writes were applied,
// so the caller may retry it as is.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCommitFailed, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }

// ClassFee is one entry of the class fee schedule. Last write wins; no history is kept.
type ClassFee struct {
	ClassID    string    `json:"class_id"`
	MonthlyFee int64     `json:"monthly_fee"`
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// Record is the live, per student per month fee record. It is overwritten by every settlement
// of its month; MonthlyFee is a snapshot of the schedule taken at settlement time.
type Record struct {
	StudentID     string    `json:"student_id"`
	Year          int       `json:"year"`
	Month         Month     `json:"month"`
	MonthlyFee    int64     `json:"monthly_fee"`
	OtherCharges  int64     `json:"other_charges"`
	PaidAmount    int64     `json:"paid_amount"`
	PreviousDue   int64     `json:"previous_month_due"`
	BalanceDue    int64     `json:"balance_due"`
	Status        Status    `json:"status"`
	ReceiptNumber string    `json:"receipt_number"`
	Version       int       `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

func (r Record) Period() Period { return Period{Year: r.Year, Month: r.Month} }

// HistoryEntry is the immutable snapshot written once per settlement.
type HistoryEntry struct {
	ReceiptNumber string    `json:"receipt_number"`
	StudentID     string    `json:"student_id"`
	Year          int       `json:"year"`
	Month         Month     `json:"month"`
	MonthlyFee    int64     `json:"monthly_fee"`
	OtherCharges  int64     `json:"other_charges"`
	PreviousDue   int64     `json:"previous_month_due"`
	TotalDue      int64     `json:"total_due"`
	PaidAmount    int64     `json:"paid_amount"`
	Received      int64     `json:"amount_received"` // paid amount delta against the record it replaced
	BalanceDue    int64     `json:"balance_due"`
	Status        Status    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"` // UTC
	Seq           int64     `json:"-"`          // commit order assigned by the store
}

func (e HistoryEntry) Period() Period { return Period{Year: e.Year, Month: e.Month} }

// Settlement is what an admin or teacher submits for a student's month.
type Settlement struct {
	OtherCharges int64 `json:"other_charges" validate:"min=0"`
	PaidAmount   int64 `json:"paid_amount" validate:"min=0"`
}

func (s Settlement) Validate(validate *validator.Validate) error { return validate.Struct(s) }

func (s Settlement) check() error {
	var flds []core.FieldError
	if s.OtherCharges < 0 {
		flds = append(flds, core.FieldError{Field: "other_charges", Error: "must be a non-negative amount"})
	}
	if s.PaidAmount < 0 {
		flds = append(flds, core.FieldError{Field: "paid_amount", Error: "must be a non-negative amount"})
	}
	if flds != nil {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// ScheduleUpdate is the payload of a class fee change.
type ScheduleUpdate struct {
	MonthlyFee *int64 `json:"monthly_fee" validate:"required,min=0"`
}

func (su ScheduleUpdate) Validate(validate *validator.Validate) error { return validate.Struct(su) }

// Commit is the unit a Repository applies atomically: the record overwrite and the history append.
type Commit struct {
	Record          Record
	ExpectedVersion int // 0: the record must not exist yet
	Entry           HistoryEntry
}

// RecordView is the current-month view consumed by dashboards.
type RecordView struct {
	StudentID     string     `json:"student_id"`
	Year          int        `json:"year"`
	Month         Month      `json:"month"`
	MonthlyFee    int64      `json:"monthly_fee"`
	OtherCharges  int64      `json:"other_charges"`
	PaidAmount    int64      `json:"paid_amount"`
	PreviousDue   int64      `json:"previous_month_due"`
	TotalDue      int64      `json:"total_due"`
	BalanceDue    int64      `json:"balance_due"`
	Status        Status     `json:"status"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	Recorded      bool       `json:"recorded"` // false until the month's first settlement
}

// ReceiptDocument is the render-ready payload of one receipt.
type ReceiptDocument struct {
	StudentID    string    `json:"student_id"`
	StudentName  string    `json:"student_name"`
	Class        string    `json:"class"`
	RollNo       string    `json:"roll_no"`
	Address      string    `json:"address"`
	ReceiptNo    string    `json:"receipt_no"`
	Date         time.Time `json:"date"`
	Year         int       `json:"year"`
	Month        Month     `json:"month"`
	MonthlyFee   int64     `json:"monthly_fee"`
	OtherCharges int64     `json:"other_charges"`
	PreviousDue  int64     `json:"previous_month_due"`
	Total        int64     `json:"total"`
	PaidAmount   int64     `json:"paid_amount"`
	BalanceDue   int64     `json:"balance_due"`
	Status       Status    `json:"status"`
}

// PaymentMail is the template data of the payment confirmation email.
type PaymentMail struct {
	StudentID     string
	StudentName   string
	ReceiptNumber string
	Year          int
	Month         Month
	PaidAmount    int64
	BalanceDue    int64
	Status        Status
}

type (
	Repository interface {
		// SetMonthlyFee overwrites the class fee (last write wins).
		SetMonthlyFee(ctx context.Context, cf ClassFee) (ClassFee, error)
		// GetMonthlyFee returns ErrScheduleNotFound when the class has no fee configured.
		GetMonthlyFee(ctx context.Context, classID string) (ClassFee, error)
		ListSchedule(ctx context.Context) ([]ClassFee, error)

		// GetRecord returns ErrRecordNotFound when the month was never settled.
		GetRecord(ctx context.Context, studentID string, p Period) (Record, error)
		// CommitSettlement applies both writes of c or none of them. It returns ErrVersionConflict
		// when the stored record version is not c.ExpectedVersion and ErrReceiptExists when the
		// receipt number is taken.
		CommitSettlement(ctx context.Context, c Commit) (HistoryEntry, error)
		// ListHistory returns a student's entries in commit order.
		ListHistory(ctx context.Context, studentID string) ([]HistoryEntry, error)
		// GetHistoryEntry returns ErrReceiptNotFound on miss.
		GetHistoryEntry(ctx context.Context, studentID, receiptNumber string) (HistoryEntry, error)
		ReceiptExists(ctx context.Context, receiptNumber string) (bool, error)
	}

	// ReceiptCache is an optional read-through cache of receipt documents.
	ReceiptCache interface {
		// GetReceipt reports a miss with ok == false and a nil error.
		GetReceipt(ctx context.Context, studentID, receiptNumber string) (doc ReceiptDocument, ok bool, err error)
		SetReceipt(ctx context.Context, doc ReceiptDocument) error
	}

	// Observer receives settlement outcomes (metrics).
	Observer interface {
		SettlementCommitted(entry HistoryEntry)
		SettlementRetried(reason string)
		SettlementFailed()
	}
)
