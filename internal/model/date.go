package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the canonical string form of a Date.
const DateFormat = "2006-01-02"

const (
	minYear = 1900
	maxYear = 2200
)

// Date is a calendar date with day granularity.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns the Date for year, month and day. Out-of-range values are
// normalized the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	y, m, d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Date()
	return Date{y, m, d}
}

// DateFromYYYYMMDD decomposes an 8-digit YYYYMMDD integer. It reports false
// when the value does not name a real calendar day.
func DateFromYYYYMMDD(v uint32) (Date, bool) {
	year := int(v / 10000)
	month := time.Month((v % 10000) / 100)
	day := int(v % 100)
	if year < minYear || year > maxYear || month < time.January || month > time.December || day < 1 {
		return Date{}, false
	}
	d := NewDate(year, month, day)
	if d.y != year || d.m != month || d.d != day {
		// normalized into another day: Feb 30, Apr 31, ...
		return Date{}, false
	}
	return d, true
}

// ParseDate accepts YYYYMMDD or YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) == 8 && !strings.Contains(s, "-") {
		v, err := strconv.ParseUint(s, 10, 32)
		if err == nil {
			if d, ok := DateFromYYYYMMDD(uint32(v)); ok {
				return d, nil
			}
		}
		return Date{}, fmt.Errorf("invalid date %q want format YYYYMMDD", s)
	}
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q want format YYYYMMDD or %s: %w", s, DateFormat, err)
	}
	return NewDate(t.Date()), nil
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Date) Year() int          { return d.y }
func (d Date) Month() time.Month  { return d.m }
func (d Date) Day() int           { return d.d }
func (d Date) IsZero() bool       { return d.y == 0 && d.m == 0 && d.d == 0 }
func (d Date) Before(x Date) bool { return d.Compare(x) < 0 }
func (d Date) After(x Date) bool  { return d.Compare(x) > 0 }

// YYYYMMDD returns the integer encoding used by the source files.
func (d Date) YYYYMMDD() uint32 {
	return uint32(d.y*10000 + int(d.m)*100 + d.d)
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(x Date) int {
	a, b := d.YYYYMMDD(), x.YYYYMMDD()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String formats the date as YYYY-MM-DD; the zero Date formats as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.y, int(d.m), d.d)
}
