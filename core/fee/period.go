package fee

import (
	"strconv"
	"strings"
	"time"
)

// Month is one of the twelve canonical month names used as lookup keys
// across the schedule, the records and the history.
type Month string

const (
	January   Month = "January"
	February  Month = "February"
	March     Month = "March"
	April     Month = "April"
	May       Month = "May"
	June      Month = "June"
	July      Month = "July"
	August    Month = "August"
	September Month = "September"
	October   Month = "October"
	November  Month = "November"
	December  Month = "December"
)

var Months = []Month{
	January, February, March, April, May, June,
	July, August, September, October, November, December,
}

// ParseMonth accepts a month name or its three-letter abbreviation, in any case.
func ParseMonth(s string) (Month, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for _, m := range Months {
			name := strings.ToLower(string(m))
			if s == name || s == name[:3] {
				return m, nil
			}
		}
	}
	return "", ErrInvalidMonth
}

// Number returns the calendar number of m (1-12), 0 if m is not canonical.
func (m Month) Number() int {
	for i, mm := range Months {
		if mm == m {
			return i + 1
		}
	}
	return 0
}

func (m Month) Valid() bool { return m.Number() > 0 }

func (m Month) String() string { return string(m) }

// Period is the (year, month) a fee record belongs to.
type Period struct {
	Year  int   `json:"year"`
	Month Month `json:"month"`
}

func NewPeriod(year int, month string) (Period, error) {
	m, err := ParseMonth(month)
	if err != nil {
		return Period{}, err
	}
	if year < 1970 || year > 9999 {
		return Period{}, ErrInvalidYear
	}
	return Period{Year: year, Month: m}, nil
}

// CurrentPeriod returns the period t falls in (UTC).
func CurrentPeriod(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: Months[t.Month()-1]}
}

// Prev returns the calendar predecessor: January rolls back to December of the previous year.
func (p Period) Prev() Period {
	n := p.Month.Number()
	if n <= 1 {
		return Period{Year: p.Year - 1, Month: December}
	}
	return Period{Year: p.Year, Month: Months[n-2]}
}

func (p Period) String() string {
	return string(p.Month) + " " + strconv.Itoa(p.Year)
}
