package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindPeriod reads the `:year` and `:month` path params.
func bindPeriod(ctx echo.Context) (fee.Period, error) {
	year, err := strconv.Atoi(ctx.Param("year"))
	if err != nil {
		return fee.Period{}, core.NewValidationError(fee.ErrInvalidYear, core.FieldError{Field: "year", Error: fee.ErrInvalidYear.Error()})
	}
	p, err := fee.NewPeriod(year, ctx.Param("month"))
	if err != nil {
		field := "month"
		if err == fee.ErrInvalidYear {
			field = "year"
		}
		return fee.Period{}, core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return p, nil
}

// receiptQuery are the query params of the receipt history.
type receiptQuery struct {
	Search string `query:"search"`
	Month  string `query:"month"`
	Year   string `query:"year"`
	Status string `query:"status"`
	From   string `query:"from"` // YYYY-MM-DD or RFC 3339
	To     string `query:"to"`   // inclusive
}

func (q receiptQuery) filter() (*fee.HistoryFilter, error) {
	filter := &fee.HistoryFilter{
		Search: q.Search,
		Month:  q.Month,
		Status: q.Status,
	}

	var flds []core.FieldError
	if q.Year != "" {
		year, err := strconv.Atoi(strings.TrimSpace(q.Year))
		if err != nil {
			flds = append(flds, core.FieldError{Field: "year", Error: fee.ErrInvalidYear.Error()})
		}
		filter.Year = year
	}
	if q.From != "" {
		from, _, err := parseDate(q.From)
		if err != nil {
			flds = append(flds, core.FieldError{Field: "from", Error: err.Error()})
		}
		filter.From = from
	}
	if q.To != "" {
		to, dateOnly, err := parseDate(q.To)
		if err != nil {
			flds = append(flds, core.FieldError{Field: "to", Error: err.Error()})
		}
		if dateOnly {
			to = to.Add(24*time.Hour - time.Nanosecond) // whole day
		}
		filter.To = to
	}
	if flds != nil {
		return nil, core.NewValidationError(nil, flds...)
	}

	filter.Clean()
	return filter, nil
}

func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, errInvalidDate
	}
	return t.UTC(), false, nil
}
