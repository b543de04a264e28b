package fee

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/feeledger/core"
)

// sortable history fields
const (
	OrderReceiptNumber = "receipt_number"
	OrderUpdatedAt     = "updated_at"
	OrderPaidAmount    = "paid_amount"
	OrderBalanceDue    = "balance_due"
)

var (
	DefaultHistoryOrdering = []core.DBOrdering{{Field: OrderUpdatedAt, Ascending: false}}

	entryLess = map[string]func(a, b HistoryEntry) int{
		OrderReceiptNumber: func(a, b HistoryEntry) int { return strings.Compare(a.ReceiptNumber, b.ReceiptNumber) },
		OrderUpdatedAt:     func(a, b HistoryEntry) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
		OrderPaidAmount:    func(a, b HistoryEntry) int { return cmpInt64(a.PaidAmount, b.PaidAmount) },
		OrderBalanceDue:    func(a, b HistoryEntry) int { return cmpInt64(a.BalanceDue, b.BalanceDue) },
	}
)

// HistoryFilter narrows a student's receipts. Every set field must match (AND).
type HistoryFilter struct {
	// Search does a case-insensitive match on the receipt number, the month,
	// the date (YYYY-MM-DD) or the paid amount.
	Search string    `json:"search"`
	Month  string    `json:"month" validate:"omitempty,month"`
	Year   int       `json:"year" validate:"omitempty,min=1970"`
	Status string    `json:"status" validate:"omitempty,oneof=paid partial"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

func (hf *HistoryFilter) Clean() {
	hf.Search = core.CleanString(hf.Search, true /* lower */)
	hf.Status = core.CleanString(hf.Status, true /* lower */)
	if m, err := ParseMonth(hf.Month); err == nil {
		hf.Month = string(m)
	}
}

func (hf HistoryFilter) Validate(validate *validator.Validate) error { return validate.Struct(hf) }

func (hf *HistoryFilter) IsEmpty() bool {
	return hf.Search == "" && hf.Month == "" && hf.Year == 0 && hf.Status == "" && hf.From.IsZero() && hf.To.IsZero()
}

func (hf *HistoryFilter) match(e HistoryEntry) bool {
	if hf.Month != "" && string(e.Month) != hf.Month {
		return false
	}
	if hf.Year != 0 && e.Year != hf.Year {
		return false
	}
	if hf.Status != "" && strings.ToLower(DisplayStatus(e.BalanceDue)) != hf.Status {
		return false
	}
	if !hf.From.IsZero() && e.UpdatedAt.Before(hf.From.UTC()) {
		return false
	}
	if !hf.To.IsZero() && e.UpdatedAt.After(hf.To.UTC()) {
		return false
	}
	if hf.Search != "" {
		return strings.Contains(strings.ToLower(e.ReceiptNumber), hf.Search) ||
			strings.Contains(strings.ToLower(string(e.Month)), hf.Search) ||
			strings.Contains(e.UpdatedAt.Format("2006-01-02"), hf.Search) ||
			strconv.FormatInt(e.PaidAmount, 10) == hf.Search
	}
	return true
}

// FilterEntries returns the entries matching filter, in their original order.
func FilterEntries(entries []HistoryEntry, filter *HistoryFilter) []HistoryEntry {
	if filter == nil || filter.IsEmpty() {
		return entries
	}
	matches := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if filter.match(e) {
			matches = append(matches, e)
		}
	}
	return matches
}

// SortEntries sorts entries in place. Ties (and an empty ordering) fall back to commit order,
// newest first.
func SortEntries(entries []HistoryEntry, ordering []core.DBOrdering) error {
	for _, ord := range ordering {
		if _, ok := entryLess[ord.Field]; !ok {
			return core.NewValidationError(nil, core.FieldError{Field: "ordering", Error: "unknown ordering field " + strconv.Quote(ord.Field)})
		}
	}
	sortEntries(entries, ordering)
	return nil
}

func sortNewestFirst(entries []HistoryEntry) { sortEntries(entries, DefaultHistoryOrdering) }

// sortEntries expects known ordering fields.
func sortEntries(entries []HistoryEntry, ordering []core.DBOrdering) {
	sort.SliceStable(entries, func(i, j int) bool {
		for _, ord := range ordering {
			c := entryLess[ord.Field](entries[i], entries[j])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return entries[i].Seq > entries[j].Seq
	})
}

// Stats are the dashboard counters over a set of receipts.
type Stats struct {
	Receipts      int        `json:"receipts"`
	TotalPaid     int64      `json:"total_paid"`
	FullyPaid     int        `json:"fully_paid"`
	Partial       int        `json:"partially_paid"`
	LastPaymentAt *time.Time `json:"last_payment_at"`
}

// Summarize computes Stats. TotalPaid adds up the amounts received by each receipt so
// re-settling a month does not count its earlier payments twice.
func Summarize(entries []HistoryEntry) Stats {
	var st Stats
	for _, e := range entries {
		st.Receipts++
		st.TotalPaid += e.Received
		if e.BalanceDue > 0 {
			st.Partial++
		} else {
			st.FullyPaid++
		}
		if st.LastPaymentAt == nil || e.UpdatedAt.After(*st.LastPaymentAt) {
			t := e.UpdatedAt
			st.LastPaymentAt = &t
		}
	}
	return st
}

// HistoryView is a filtered, ordered receipt list with its counters.
type HistoryView struct {
	Entries []HistoryEntry `json:"entries"`
	Stats   Stats          `json:"stats"`
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
