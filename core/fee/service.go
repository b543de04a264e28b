package fee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/student"
)

var NowFunc = time.Now // mockable

const defaultMaxCommitRetries = 5

type (
	// Deps are the collaborators of Service. Mail, Cache and Observer are optional.
	Deps struct {
		Repo      Repository
		Students  student.Repository
		Sequencer *Sequencer
		Mail      core.EmailService
		Cache     ReceiptCache
		Observer  Observer
		Logger    core.Logger
		Conf      *core.Config
	}

	Service struct {
		repo       Repository
		students   student.Repository
		seq        *Sequencer
		mailSvc    core.EmailService
		cache      ReceiptCache
		observer   Observer
		logger     core.Logger
		maxRetries int
	}
)

func NewService(deps Deps) *Service {
	maxRetries := defaultMaxCommitRetries
	if deps.Conf != nil && deps.Conf.Ledger.MaxCommitRetries > 0 {
		maxRetries = deps.Conf.Ledger.MaxCommitRetries
	}
	seq := deps.Sequencer
	if seq == nil {
		prefix := ""
		if deps.Conf != nil {
			prefix = deps.Conf.Ledger.InstitutePrefix
		}
		seq = NewSequencer(prefix)
	}
	return &Service{
		repo:       deps.Repo,
		students:   deps.Students,
		seq:        seq,
		mailSvc:    deps.Mail,
		cache:      deps.Cache,
		observer:   deps.Observer,
		logger:     deps.Logger,
		maxRetries: maxRetries,
	}
}

// Class Fee Schedule

// SetMonthlyFee overwrites the monthly fee of a class. Records already committed keep their snapshot.
func (svc *Service) SetMonthlyFee(ctx context.Context, classID string, amount int64) (ClassFee, error) {
	classID = core.CleanString(classID)
	if !core.ValidClassID(classID) {
		return ClassFee{}, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "invalid class identifier"})
	}
	if amount < 0 {
		return ClassFee{}, core.NewValidationError(nil, core.FieldError{Field: "monthly_fee", Error: "must be a non-negative amount"})
	}
	cf, err := svc.repo.SetMonthlyFee(ctx, ClassFee{ClassID: classID, MonthlyFee: amount, UpdatedAt: NowFunc().UTC()})
	if err != nil {
		return ClassFee{}, errors.Wrap(err, "setting monthly fee")
	}
	return cf, nil
}

// GetMonthlyFee returns the class fee, 0 when none is configured.
func (svc *Service) GetMonthlyFee(ctx context.Context, classID string) (int64, error) {
	cf, err := svc.repo.GetMonthlyFee(ctx, core.CleanString(classID))
	if err != nil {
		if errors.Cause(err) == ErrScheduleNotFound {
			return 0, nil
		}
		return 0, errors.Wrap(err, "getting monthly fee")
	}
	return cf.MonthlyFee, nil
}

func (svc *Service) ListSchedule(ctx context.Context) ([]ClassFee, error) {
	schedule, err := svc.repo.ListSchedule(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing fee schedule")
	}
	return schedule, nil
}

// Settlements

// CommitSettlement records charges and a payment for a student's month and mints its receipt.
// The record overwrite and the history append are committed together; a conflicting concurrent
// settlement of the same month makes this one re-read and retry. Failures come back as *CommitError.
func (svc *Service) CommitSettlement(ctx context.Context, studentID string, p Period, s Settlement) (HistoryEntry, error) {
	if err := s.check(); err != nil {
		return HistoryEntry{}, err
	}
	if !p.Month.Valid() {
		return HistoryEntry{}, core.NewValidationError(ErrInvalidMonth, core.FieldError{Field: "month", Error: ErrInvalidMonth.Error()})
	}

	st, err := svc.getStudent(ctx, studentID)
	if err != nil {
		return HistoryEntry{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= svc.maxRetries; attempt++ {
		entry, bal, err := svc.commitOnce(ctx, st, p, s)
		if err == nil {
			svc.afterCommit(ctx, st, entry, bal)
			return entry, nil
		}

		switch cause := errors.Cause(err); cause {
		case ErrVersionConflict, ErrReceiptExists:
			lastErr = err
			if svc.observer != nil {
				svc.observer.SettlementRetried(cause.Error())
			}
			if ctx.Err() != nil {
				return HistoryEntry{}, svc.commitFailed(ctx.Err())
			}
		default:
			return HistoryEntry{}, svc.commitFailed(err)
		}
	}
	return HistoryEntry{}, svc.commitFailed(errors.Wrapf(lastErr, "giving up after %d attempts", svc.maxRetries))
}

func (svc *Service) commitOnce(ctx context.Context, st student.Student, p Period, s Settlement) (HistoryEntry, Balance, error) {
	classFee, err := svc.GetMonthlyFee(ctx, st.ClassID)
	if err != nil {
		return HistoryEntry{}, Balance{}, err
	}
	prevDue, err := svc.previousDue(ctx, st.ID, p)
	if err != nil {
		return HistoryEntry{}, Balance{}, err
	}

	var expected int
	var prevPaid int64
	current, err := svc.repo.GetRecord(ctx, st.ID, p)
	switch errors.Cause(err) {
	case nil:
		expected = current.Version
		prevPaid = current.PaidAmount
	case ErrRecordNotFound:
	default:
		return HistoryEntry{}, Balance{}, errors.Wrap(err, "getting fee record")
	}

	bal := ComputeBalance(classFee, s.OtherCharges, s.PaidAmount, prevDue)
	now := NowFunc().UTC()
	receiptNo, err := svc.seq.NextUnique(now, func(code string) (bool, error) {
		return svc.repo.ReceiptExists(ctx, code)
	})
	if err != nil {
		return HistoryEntry{}, Balance{}, errors.Wrap(err, "minting receipt number")
	}

	commit := Commit{
		ExpectedVersion: expected,
		Record: Record{
			StudentID:     st.ID,
			Year:          p.Year,
			Month:         p.Month,
			MonthlyFee:    classFee,
			OtherCharges:  s.OtherCharges,
			PaidAmount:    s.PaidAmount,
			PreviousDue:   prevDue,
			BalanceDue:    bal.BalanceDue,
			Status:        bal.Status,
			ReceiptNumber: receiptNo,
			Version:       expected + 1,
			UpdatedAt:     now,
		},
		Entry: HistoryEntry{
			ReceiptNumber: receiptNo,
			StudentID:     st.ID,
			Year:          p.Year,
			Month:         p.Month,
			MonthlyFee:    classFee,
			OtherCharges:  s.OtherCharges,
			PreviousDue:   prevDue,
			TotalDue:      bal.TotalDue,
			PaidAmount:    s.PaidAmount,
			Received:      s.PaidAmount - prevPaid,
			BalanceDue:    bal.BalanceDue,
			Status:        bal.Status,
			UpdatedAt:     now,
		},
	}
	entry, err := svc.repo.CommitSettlement(ctx, commit)
	if err != nil {
		return HistoryEntry{}, Balance{}, err
	}
	return entry, bal, nil
}

func (svc *Service) commitFailed(err error) error {
	if svc.observer != nil {
		svc.observer.SettlementFailed()
	}
	return &CommitError{Err: err}
}

// afterCommit runs the side effects of a recorded settlement. None of them can undo it.
func (svc *Service) afterCommit(ctx context.Context, st student.Student, entry HistoryEntry, bal Balance) {
	if bal.Excess > 0 {
		svc.logger.Warn("overpayment is not carried forward", st, map[string]interface{}{
			"period":  entry.Period().String(),
			"receipt": entry.ReceiptNumber,
			"excess":  bal.Excess,
		})
	}

	if svc.observer != nil {
		svc.observer.SettlementCommitted(entry)
	}

	if svc.cache != nil {
		if err := svc.cache.SetReceipt(ctx, newReceiptDocument(st, entry)); err != nil {
			svc.logger.Warn(fmt.Sprintf("caching receipt %s: %v", entry.ReceiptNumber, err), err)
		}
	}

	if svc.mailSvc != nil && st.Email != "" {
		svc.sendPaymentMail(st, entry)
	}
}

// sendPaymentMail emails the payment confirmation with the receipt document attached as JSON.
func (svc *Service) sendPaymentMail(st student.Student, entry HistoryEntry) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: st.Name, Address: st.Email}},
		Subject:      "Fee payment receipt " + entry.ReceiptNumber,
		TemplateName: "fee_payment",
		TemplateData: PaymentMail{
			StudentID:     st.ID,
			StudentName:   st.Name,
			ReceiptNumber: entry.ReceiptNumber,
			Year:          entry.Year,
			Month:         entry.Month,
			PaidAmount:    entry.PaidAmount,
			BalanceDue:    entry.BalanceDue,
			Status:        entry.Status,
		},
	}

	doc, err := json.MarshalIndent(newReceiptDocument(st, entry), "", "  ")
	if err == nil {
		err = msg.Attach(bytes.NewReader(doc), ReceiptAttachmentName(entry.ReceiptNumber), "application/json")
	}
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("attaching receipt %s: %v", entry.ReceiptNumber, err), st, err)
	}

	svc.mailSvc.SendMessages(msg)
}

// ReceiptAttachmentName is the file name of the receipt attached to payment emails.
func ReceiptAttachmentName(receiptNumber string) string {
	return "receipt-" + receiptNumber + ".json"
}

// Reads

// previousDue is the calendar rule: the balance left on the student's record for the preceding month.
func (svc *Service) previousDue(ctx context.Context, studentID string, p Period) (int64, error) {
	rec, err := svc.repo.GetRecord(ctx, studentID, p.Prev())
	if err != nil {
		if errors.Cause(err) == ErrRecordNotFound {
			return 0, nil
		}
		return 0, errors.Wrap(err, "getting previous month record")
	}
	return rec.BalanceDue, nil
}

// CurrentView returns the figures of a student's month. A recorded month shows the record as
// committed, the same figures its receipt and the next month's carry-forward use. Before the first
// settlement the view uses the current class fee and the previous month's balance.
func (svc *Service) CurrentView(ctx context.Context, studentID string, p Period) (RecordView, error) {
	st, err := svc.getStudent(ctx, studentID)
	if err != nil {
		return RecordView{}, err
	}

	view := RecordView{StudentID: st.ID, Year: p.Year, Month: p.Month}
	rec, err := svc.repo.GetRecord(ctx, st.ID, p)
	switch errors.Cause(err) {
	case nil:
		updatedAt := rec.UpdatedAt
		view.MonthlyFee = rec.MonthlyFee
		view.OtherCharges = rec.OtherCharges
		view.PaidAmount = rec.PaidAmount
		view.PreviousDue = rec.PreviousDue
		view.TotalDue = rec.MonthlyFee + rec.OtherCharges + rec.PreviousDue
		view.BalanceDue = rec.BalanceDue
		view.Status = rec.Status
		view.ReceiptNumber = rec.ReceiptNumber
		view.UpdatedAt = &updatedAt
		view.Recorded = true
		return view, nil
	case ErrRecordNotFound:
	default:
		return RecordView{}, errors.Wrap(err, "getting fee record")
	}

	if view.MonthlyFee, err = svc.GetMonthlyFee(ctx, st.ClassID); err != nil {
		return RecordView{}, err
	}
	if view.PreviousDue, err = svc.previousDue(ctx, st.ID, p); err != nil {
		return RecordView{}, err
	}
	bal := ComputeBalance(view.MonthlyFee, view.OtherCharges, view.PaidAmount, view.PreviousDue)
	view.TotalDue = bal.TotalDue
	view.BalanceDue = bal.BalanceDue
	view.Status = bal.Status
	return view, nil
}

// ListHistory returns every receipt of a student across all months, newest first.
func (svc *Service) ListHistory(ctx context.Context, studentID string) ([]HistoryEntry, error) {
	entries, err := svc.repo.ListHistory(ctx, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "listing fee history")
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	sortNewestFirst(entries)
	return entries, nil
}

// History is ListHistory narrowed by filter, ordered by ordering (newest first by default),
// with the counters of the filtered receipts.
func (svc *Service) History(ctx context.Context, studentID string, filter *HistoryFilter, ordering []core.DBOrdering) (HistoryView, error) {
	if _, err := svc.getStudent(ctx, studentID); err != nil {
		return HistoryView{}, err
	}
	entries, err := svc.ListHistory(ctx, studentID)
	if err != nil {
		return HistoryView{}, err
	}
	entries = FilterEntries(entries, filter)
	if len(ordering) > 0 {
		if err := SortEntries(entries, ordering); err != nil {
			return HistoryView{}, err
		}
	}
	return HistoryView{Entries: entries, Stats: Summarize(entries)}, nil
}

// Receipt returns the document of one receipt, ErrReceiptNotFound when there is none.
func (svc *Service) Receipt(ctx context.Context, studentID, receiptNumber string) (ReceiptDocument, error) {
	studentID = core.CleanString(studentID)
	receiptNumber = core.CleanString(receiptNumber)
	if svc.cache != nil {
		doc, ok, err := svc.cache.GetReceipt(ctx, studentID, receiptNumber)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("reading cached receipt %s: %v", receiptNumber, err), err)
		} else if ok {
			return doc, nil
		}
	}

	entry, err := svc.repo.GetHistoryEntry(ctx, studentID, receiptNumber)
	if err != nil {
		if errors.Cause(err) == ErrReceiptNotFound {
			return ReceiptDocument{}, ErrReceiptNotFound
		}
		return ReceiptDocument{}, errors.Wrap(err, "getting history entry")
	}
	st, err := svc.getStudent(ctx, studentID)
	if err != nil {
		return ReceiptDocument{}, err
	}

	doc := newReceiptDocument(st, entry)
	if svc.cache != nil {
		if err := svc.cache.SetReceipt(ctx, doc); err != nil {
			svc.logger.Warn(fmt.Sprintf("caching receipt %s: %v", receiptNumber, err), err)
		}
	}
	return doc, nil
}

func (svc *Service) getStudent(ctx context.Context, studentID string) (student.Student, error) {
	st, err := svc.students.GetStudent(ctx, core.CleanString(studentID))
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return student.Student{}, ErrStudentNotFound
		}
		return student.Student{}, errors.Wrap(err, "getting student")
	}
	return st, nil
}

func newReceiptDocument(st student.Student, e HistoryEntry) ReceiptDocument {
	return ReceiptDocument{
		StudentID:    st.ID,
		StudentName:  st.Name,
		Class:        st.ClassID,
		RollNo:       st.RollNo,
		Address:      st.Address,
		ReceiptNo:    e.ReceiptNumber,
		Date:         e.UpdatedAt,
		Year:         e.Year,
		Month:        e.Month,
		MonthlyFee:   e.MonthlyFee,
		OtherCharges: e.OtherCharges,
		PreviousDue:  e.PreviousDue,
		Total:        e.TotalDue,
		PaidAmount:   e.PaidAmount,
		BalanceDue:   e.BalanceDue,
		Status:       e.Status,
	}
}
