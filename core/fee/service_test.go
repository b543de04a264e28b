package fee_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/student"
	"github.com/trezcool/feeledger/services/email"
	"github.com/trezcool/feeledger/storage/database/inmem"
	"github.com/trezcool/feeledger/tests"
)

var (
	ctx   = context.Background()
	march = fee.Period{Year: 2024, Month: fee.March}
)

type env struct {
	svc      *fee.Service
	repo     fee.Repository
	students student.Repository
	cache    *memCache
	observer *countingObserver
	conf     *core.Config
}

func setup(t *testing.T, opts ...func(*fee.Deps)) env {
	t.Helper()

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	e := env{
		repo:     inmemdb.NewFeeRepository(db),
		students: inmemdb.NewStudentRepository(db),
		cache:    newMemCache(),
		observer: &countingObserver{},
		conf:     conf,
	}
	deps := fee.Deps{
		Repo:     e.repo,
		Students: e.students,
		Cache:    e.cache,
		Observer: e.observer,
		Logger:   logger,
		Conf:     conf,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	e.svc = fee.NewService(deps)

	fee.NowFunc = newClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	t.Cleanup(func() { fee.NowFunc = time.Now })
	return e
}

// newClock returns a NowFunc that advances one second per call.
func newClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func (e env) student(t *testing.T, classID string, email ...string) student.Student {
	return testutil.CreateStudent(t, e.students, "Asha Rao", classID, "17", email...)
}

func (e env) setFee(t *testing.T, classID string, amount int64) {
	_, err := e.svc.SetMonthlyFee(ctx, classID, amount)
	require.NoError(t, err)
}

func (e env) settle(t *testing.T, studentID string, p fee.Period, other, paid int64) fee.HistoryEntry {
	entry, err := e.svc.CommitSettlement(ctx, studentID, p, fee.Settlement{OtherCharges: other, PaidAmount: paid})
	require.NoError(t, err)
	return entry
}

func TestService_Schedule(t *testing.T) {
	e := setup(t)

	got, err := e.svc.GetMonthlyFee(ctx, "10A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got, "unset class fee reads as zero")

	e.setFee(t, "10A", 500)
	e.setFee(t, " 9B ", 450)
	e.setFee(t, "10A", 550) // last write wins

	got, err = e.svc.GetMonthlyFee(ctx, "10A")
	require.NoError(t, err)
	assert.Equal(t, int64(550), got)

	schedule, err := e.svc.ListSchedule(ctx)
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, "10A", schedule[0].ClassID)
	assert.Equal(t, "9B", schedule[1].ClassID)

	tests := []struct {
		name    string
		classID string
		amount  int64
	}{
		{name: "negative amount", classID: "10A", amount: -1},
		{name: "empty class", classID: "  ", amount: 100},
		{name: "invalid class", classID: "10 A", amount: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.SetMonthlyFee(ctx, tt.classID, tt.amount)
			var verr *core.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestService_CommitSettlement(t *testing.T) {
	e := setup(t)
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")

	t.Run("fully paid with other charges", func(t *testing.T) {
		entry := e.settle(t, st.ID, fee.Period{Year: 2024, Month: fee.January}, 50, 550)
		assert.Equal(t, int64(550), entry.TotalDue)
		assert.Equal(t, int64(0), entry.BalanceDue)
		assert.Equal(t, fee.StatusPaid, entry.Status)
		assert.True(t, strings.HasPrefix(entry.ReceiptNumber, "FL2024"), entry.ReceiptNumber)
	})

	t.Run("previous due carries forward", func(t *testing.T) {
		feb := fee.Period{Year: 2024, Month: fee.February}
		e.settle(t, st.ID, feb, 0, 300) // leaves 200 due

		entry := e.settle(t, st.ID, march, 0, 300)
		assert.Equal(t, int64(200), entry.PreviousDue)
		assert.Equal(t, int64(700), entry.TotalDue)
		assert.Equal(t, int64(400), entry.BalanceDue)
		assert.Equal(t, fee.StatusUnpaid, entry.Status)
	})

	t.Run("overpayment is discarded", func(t *testing.T) {
		may := fee.Period{Year: 2024, Month: fee.May}
		entry := e.settle(t, st.ID, may, 0, 700)
		assert.Equal(t, int64(0), entry.BalanceDue)
		assert.Equal(t, fee.StatusPaid, entry.Status)

		june := fee.Period{Year: 2024, Month: fee.June}
		view, err := e.svc.CurrentView(ctx, st.ID, june)
		require.NoError(t, err)
		assert.Equal(t, int64(0), view.PreviousDue, "excess is not a credit")
		assert.Equal(t, int64(500), view.BalanceDue)
	})

	t.Run("year boundary", func(t *testing.T) {
		dec := fee.Period{Year: 2024, Month: fee.December}
		e.settle(t, st.ID, dec, 0, 100) // leaves 400 due

		jan := fee.Period{Year: 2025, Month: fee.January}
		view, err := e.svc.CurrentView(ctx, st.ID, jan)
		require.NoError(t, err)
		assert.Equal(t, int64(400), view.PreviousDue)

		entry := e.settle(t, st.ID, jan, 0, 0)
		assert.Equal(t, int64(400), entry.PreviousDue)
	})
}

func TestService_CommitSettlement_Invalid(t *testing.T) {
	e := setup(t)
	st := e.student(t, "10A")

	tests := []struct {
		name      string
		studentID string
		period    fee.Period
		s         fee.Settlement
		wantErr   error
		wantVErr  bool
	}{
		{name: "negative paid", studentID: st.ID, period: march, s: fee.Settlement{PaidAmount: -1}, wantVErr: true},
		{name: "negative charges", studentID: st.ID, period: march, s: fee.Settlement{OtherCharges: -5}, wantVErr: true},
		{name: "invalid month", studentID: st.ID, period: fee.Period{Year: 2024, Month: "Smarch"}, wantVErr: true},
		{name: "unknown student", studentID: "nobody", period: march, wantErr: fee.ErrStudentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CommitSettlement(ctx, tt.studentID, tt.period, tt.s)
			if tt.wantVErr {
				var verr *core.ValidationError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.Equal(t, tt.wantErr, err)
			}
		})
	}

	history, err := e.svc.ListHistory(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "rejected settlements are not persisted")
}

// Two settlements of the same month: both receipts are kept, the second one is newer.
func TestService_TwoSettlementsSameMonth(t *testing.T) {
	e := setup(t)
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")

	r1 := e.settle(t, st.ID, march, 0, 100)
	assert.Equal(t, int64(400), r1.BalanceDue)
	assert.Equal(t, fee.StatusUnpaid, r1.Status)

	r2 := e.settle(t, st.ID, march, 0, 500)
	assert.Equal(t, int64(0), r2.BalanceDue)
	assert.Equal(t, fee.StatusPaid, r2.Status)
	assert.NotEqual(t, r1.ReceiptNumber, r2.ReceiptNumber)

	history, err := e.svc.ListHistory(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, r2.ReceiptNumber, history[0].ReceiptNumber, "newest first")
	assert.Equal(t, r1.ReceiptNumber, history[1].ReceiptNumber)
	assert.False(t, history[0].UpdatedAt.Before(history[1].UpdatedAt))

	// R1 keeps its own snapshot
	assert.Equal(t, int64(100), history[1].PaidAmount)
	assert.Equal(t, int64(400), history[1].BalanceDue)

	rec, err := e.repo.GetRecord(ctx, st.ID, march)
	require.NoError(t, err)
	assert.Equal(t, r2.ReceiptNumber, rec.ReceiptNumber)
	assert.Equal(t, int64(500), rec.PaidAmount)
	assert.Equal(t, 2, rec.Version)

	view, err := e.svc.History(ctx, st.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(500), view.Stats.TotalPaid, "re-settling a month does not double count")
	assert.Equal(t, 1, view.Stats.FullyPaid)
	assert.Equal(t, 1, view.Stats.Partial)
}

func TestService_SameInputsTwice(t *testing.T) {
	e := setup(t)
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")

	r1 := e.settle(t, st.ID, march, 20, 300)
	r2 := e.settle(t, st.ID, march, 20, 300)
	assert.NotEqual(t, r1.ReceiptNumber, r2.ReceiptNumber)

	history, err := e.svc.ListHistory(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	rec, err := e.repo.GetRecord(ctx, st.ID, march)
	require.NoError(t, err)
	assert.Equal(t, r2.ReceiptNumber, rec.ReceiptNumber)
	assert.Equal(t, int64(20), rec.OtherCharges)
	assert.Equal(t, int64(300), rec.PaidAmount)
	assert.Equal(t, int64(0), r2.Received)
}

func TestService_ScheduleIndependence(t *testing.T) {
	e := setup(t)
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")
	entry := e.settle(t, st.ID, march, 0, 200)

	e.setFee(t, "10A", 800)

	rec, err := e.repo.GetRecord(ctx, st.ID, march)
	require.NoError(t, err)
	assert.Equal(t, int64(500), rec.MonthlyFee)

	view, err := e.svc.CurrentView(ctx, st.ID, march)
	require.NoError(t, err)
	assert.True(t, view.Recorded)
	assert.Equal(t, int64(500), view.MonthlyFee)
	assert.Equal(t, int64(300), view.BalanceDue)

	doc, err := e.svc.Receipt(ctx, st.ID, entry.ReceiptNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(500), doc.MonthlyFee)

	// an unsettled month reads the live schedule
	april := fee.Period{Year: 2024, Month: fee.April}
	view, err = e.svc.CurrentView(ctx, st.ID, april)
	require.NoError(t, err)
	assert.False(t, view.Recorded)
	assert.Equal(t, int64(800), view.MonthlyFee)
	assert.Equal(t, int64(300), view.PreviousDue)
	assert.Equal(t, int64(1100), view.TotalDue)
	assert.Equal(t, fee.StatusUnpaid, view.Status)
}

func TestService_CurrentView_ResettledEarlierMonth(t *testing.T) {
	e := setup(t)
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")
	april := fee.Period{Year: 2024, Month: fee.April}
	may := fee.Period{Year: 2024, Month: fee.May}

	e.settle(t, st.ID, march, 0, 100) // 400 left
	aprilEntry := e.settle(t, st.ID, april, 0, 0)
	e.settle(t, st.ID, march, 0, 500) // March cleared after April was recorded

	view, err := e.svc.CurrentView(ctx, st.ID, april)
	require.NoError(t, err)
	assert.True(t, view.Recorded)
	assert.Equal(t, int64(400), view.PreviousDue, "recorded month keeps its committed carry-forward")
	assert.Equal(t, int64(900), view.TotalDue)
	assert.Equal(t, int64(900), view.BalanceDue)
	assert.Equal(t, fee.StatusUnpaid, view.Status)

	doc, err := e.svc.Receipt(ctx, st.ID, aprilEntry.ReceiptNumber)
	require.NoError(t, err)
	assert.Equal(t, doc.PreviousDue, view.PreviousDue)
	assert.Equal(t, doc.BalanceDue, view.BalanceDue)

	next, err := e.svc.CurrentView(ctx, st.ID, may)
	require.NoError(t, err)
	assert.False(t, next.Recorded)
	assert.Equal(t, view.BalanceDue, next.PreviousDue, "May carries what the April view shows")
}

func TestService_Receipt(t *testing.T) {
	e := setup(t)
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")
	entry := e.settle(t, st.ID, march, 50, 300)

	t.Run("warmed on commit", func(t *testing.T) {
		doc, ok, err := e.cache.GetReceipt(ctx, st.ID, entry.ReceiptNumber)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, entry.ReceiptNumber, doc.ReceiptNo)
	})

	t.Run("from the ledger", func(t *testing.T) {
		e.cache.clear()
		doc, err := e.svc.Receipt(ctx, st.ID, entry.ReceiptNumber)
		require.NoError(t, err)
		assert.Equal(t, fee.ReceiptDocument{
			StudentID:    st.ID,
			StudentName:  st.Name,
			Class:        "10A",
			RollNo:       "17",
			Address:      st.Address,
			ReceiptNo:    entry.ReceiptNumber,
			Date:         entry.UpdatedAt,
			Year:         2024,
			Month:        fee.March,
			MonthlyFee:   500,
			OtherCharges: 50,
			Total:        550,
			PaidAmount:   300,
			BalanceDue:   250,
			Status:       fee.StatusUnpaid,
		}, doc)

		_, ok, _ := e.cache.GetReceipt(ctx, st.ID, entry.ReceiptNumber)
		assert.True(t, ok, "read-through fills the cache")
	})

	t.Run("cache hit with untrimmed ids", func(t *testing.T) {
		e.cache.clear()
		cached := fee.ReceiptDocument{StudentID: st.ID, StudentName: "from cache", ReceiptNo: entry.ReceiptNumber}
		require.NoError(t, e.cache.SetReceipt(ctx, cached))

		doc, err := e.svc.Receipt(ctx, " "+st.ID+" ", " "+entry.ReceiptNumber)
		require.NoError(t, err)
		assert.Equal(t, "from cache", doc.StudentName)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := e.svc.Receipt(ctx, st.ID, "FL20240101000000-NOPE")
		assert.Equal(t, fee.ErrReceiptNotFound, err)

		other := e.student(t, "10A")
		_, err = e.svc.Receipt(ctx, other.ID, entry.ReceiptNumber)
		assert.Equal(t, fee.ErrReceiptNotFound, err, "receipts are scoped to their student")
	})
}

func TestService_History(t *testing.T) {
	e := setup(t)
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")

	e.settle(t, st.ID, fee.Period{Year: 2024, Month: fee.January}, 0, 500)
	e.settle(t, st.ID, fee.Period{Year: 2024, Month: fee.February}, 0, 300)
	e.settle(t, st.ID, march, 0, 700)

	view, err := e.svc.History(ctx, st.ID, &fee.HistoryFilter{Status: "partial"}, nil)
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, fee.February, view.Entries[0].Month)
	assert.Equal(t, 1, view.Stats.Receipts)

	view, err = e.svc.History(ctx, st.ID, nil, []core.DBOrdering{{Field: fee.OrderPaidAmount, Ascending: true}})
	require.NoError(t, err)
	require.Len(t, view.Entries, 3)
	assert.Equal(t, []int64{300, 500, 700}, []int64{view.Entries[0].PaidAmount, view.Entries[1].PaidAmount, view.Entries[2].PaidAmount})
	assert.Equal(t, int64(1500), view.Stats.TotalPaid)
	assert.Equal(t, 2, view.Stats.FullyPaid)

	_, err = e.svc.History(ctx, st.ID, nil, []core.DBOrdering{{Field: "nope"}})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = e.svc.History(ctx, "nobody", nil, nil)
	assert.Equal(t, fee.ErrStudentNotFound, err)
}

func TestService_ConcurrentSettlements(t *testing.T) {
	const writers = 10
	e := setup(t, func(deps *fee.Deps) {
		conf := *deps.Conf
		conf.Ledger.MaxCommitRetries = writers
		deps.Conf = &conf
	})
	e.setFee(t, "10A", 500)
	st := e.student(t, "10A")
	other := e.student(t, "10A")

	var wg sync.WaitGroup
	errs := make(chan error, 2*writers)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(paid int64) {
			defer wg.Done()
			_, err := e.svc.CommitSettlement(ctx, st.ID, march, fee.Settlement{PaidAmount: paid})
			errs <- err
		}(int64(i * 10))
		go func() {
			defer wg.Done()
			_, err := e.svc.CommitSettlement(ctx, other.ID, march, fee.Settlement{PaidAmount: 50})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	for _, id := range []string{st.ID, other.ID} {
		history, err := e.svc.ListHistory(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, writers)

		rec, err := e.repo.GetRecord(ctx, id, march)
		require.NoError(t, err)
		assert.Equal(t, writers, rec.Version, "no settlement was silently overwritten")

		last := history[0]
		for _, h := range history {
			if h.Seq > last.Seq {
				last = h
			}
		}
		assert.Equal(t, last.ReceiptNumber, rec.ReceiptNumber, "record matches the last committed receipt")
	}
	assert.Equal(t, 2*writers, e.observer.committed())
}

type failingRepo struct {
	fee.Repository
	err   error
	calls int
}

func (r *failingRepo) CommitSettlement(context.Context, fee.Commit) (fee.HistoryEntry, error) {
	r.calls++
	return fee.HistoryEntry{}, r.err
}

func TestService_CommitFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		retried   int
	}{
		{name: "version conflicts exhaust retries", err: fee.ErrVersionConflict, wantCalls: 5, retried: 5},
		{name: "receipt collisions exhaust retries", err: fee.ErrReceiptExists, wantCalls: 5, retried: 5},
		{name: "store error is not retried", err: errors.New("connection reset"), wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var repo *failingRepo
			e := setup(t, func(deps *fee.Deps) {
				repo = &failingRepo{Repository: deps.Repo, err: tt.err}
				deps.Repo = repo
			})
			st := e.student(t, "10A")

			_, err := e.svc.CommitSettlement(ctx, st.ID, march, fee.Settlement{PaidAmount: 100})
			assert.True(t, errors.Is(err, fee.ErrCommitFailed), "got %v", err)
			var cerr *fee.CommitError
			assert.ErrorAs(t, err, &cerr)

			assert.Equal(t, tt.wantCalls, repo.calls)
			assert.Equal(t, tt.retried, e.observer.retried())
			assert.Equal(t, 1, e.observer.failed())

			_, err = e.repo.GetRecord(ctx, st.ID, march)
			assert.Equal(t, fee.ErrRecordNotFound, err, "nothing was written")
		})
	}
}

func TestService_PaymentMail(t *testing.T) {
	var mailSvc core.EmailService
	e := setup(t, func(deps *fee.Deps) {
		mailSvc = emailsvc.NewConsoleServiceMock(deps.Conf, deps.Logger)
		deps.Mail = mailSvc
		core.ParseEmailTemplates(deps.Logger, true)
	})
	emailsvc.ResetSentMessages()
	e.setFee(t, "10A", 500)

	withEmail := e.student(t, "10A", "asha@school.test")
	withoutEmail := e.student(t, "10A")

	entry := e.settle(t, withEmail.ID, march, 0, 200)
	e.settle(t, withoutEmail.ID, march, 0, 200)

	sent := emailsvc.Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "asha@school.test", msg.To[0].Address)
	assert.Contains(t, msg.Subject, entry.ReceiptNumber)
	assert.Contains(t, msg.TextContent, entry.ReceiptNumber)
	assert.Contains(t, msg.TextContent, "March 2024")
	assert.Contains(t, msg.HTMLContent, entry.ReceiptNumber)

	require.Len(t, msg.Attachments, 1)
	at := msg.Attachments[0]
	assert.Equal(t, fee.ReceiptAttachmentName(entry.ReceiptNumber), at.Filename)
	assert.Equal(t, "application/json", at.ContentType)
	raw, err := base64.StdEncoding.DecodeString(at.Content.String())
	require.NoError(t, err)
	var doc fee.ReceiptDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, entry.ReceiptNumber, doc.ReceiptNo)
	assert.Equal(t, withEmail.Name, doc.StudentName)
	assert.Equal(t, int64(300), doc.BalanceDue)
}

type memCache struct {
	mu   sync.Mutex
	docs map[string]fee.ReceiptDocument
}

func newMemCache() *memCache { return &memCache{docs: make(map[string]fee.ReceiptDocument)} }

func (c *memCache) GetReceipt(_ context.Context, studentID, rn string) (fee.ReceiptDocument, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[studentID+"/"+rn]
	return doc, ok, nil
}

func (c *memCache) SetReceipt(_ context.Context, doc fee.ReceiptDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc.StudentID+"/"+doc.ReceiptNo] = doc
	return nil
}

func (c *memCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = make(map[string]fee.ReceiptDocument)
}

type countingObserver struct {
	mu                      sync.Mutex
	commits, retries, fails int
}

func (o *countingObserver) SettlementCommitted(fee.HistoryEntry) {
	o.mu.Lock()
	o.commits++
	o.mu.Unlock()
}

func (o *countingObserver) SettlementRetried(string) {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
}

func (o *countingObserver) SettlementFailed() {
	o.mu.Lock()
	o.fails++
	o.mu.Unlock()
}

func (o *countingObserver) committed() int { o.mu.Lock(); defer o.mu.Unlock(); return o.commits }
func (o *countingObserver) retried() int   { o.mu.Lock(); defer o.mu.Unlock(); return o.retries }
func (o *countingObserver) failed() int    { o.mu.Lock(); defer o.mu.Unlock(); return o.fails }
