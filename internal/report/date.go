package report

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without time of day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// TargetDate returns the day before now, evaluated in loc. It is computed
// once per run and reused for every query and artifact.
func TargetDate(now time.Time, loc *time.Location) Date {
	if loc != nil {
		now = now.In(loc)
	}
	return DateOf(now).AddDays(-1)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, goerr.New("empty date")
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return Date{}, goerr.Wrap(err, "unsupported date format", goerr.V("value", value))
	}
	return DateOf(parsed), nil
}

// AddDays returns d shifted by n days, normalizing month and year overflow.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Date) String() string {
	return d.Time(time.UTC).Format(dateLayout)
}
