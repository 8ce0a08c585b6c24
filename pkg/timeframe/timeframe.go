package timeframe

import (
	"fmt"
	"strconv"
	"time"
)

// Period is the unit part of a timeframe.
type Period int

const (
	Tick Period = iota
	Second
	Minute
	Hour
	Day
	Week
	Month
	Quarter
	Year
)

// periodCodes maps each Period to the single character used in its string form (e.g. "5m", "1D").
var periodCodes = map[Period]string{
	Tick:    "t",
	Second:  "s",
	Minute:  "m",
	Hour:    "h",
	Day:     "D",
	Week:    "W",
	Month:   "M",
	Quarter: "Q",
	Year:    "Y",
}

// nominal lengths used for ordering only. 1 Month = 30.44 days, 1 Year = 365.24 days.
var nominalSeconds = map[Period]int64{
	Tick:    0,
	Second:  1,
	Minute:  60,
	Hour:    3600,
	Day:     86400,
	Week:    604800,
	Month:   2629743,
	Quarter: 3 * 2629743,
	Year:    31556926,
}

func (p Period) String() string {
	if c, ok := periodCodes[p]; ok {
		return c
	}
	return "?"
}

// TF is an immutable sampling interval: a positive multiplier of a Period.
// The zero value is the "unknown timeframe".
type TF struct {
	Mult   int
	Period Period
}

// New validates and builds a TF.
func New(mult int, period Period) (TF, error) {
	if mult <= 0 {
		return TF{}, fmt.Errorf("timeframe multiplier must be positive, got %d", mult)
	}
	if _, ok := periodCodes[period]; !ok {
		return TF{}, fmt.Errorf("invalid timeframe period: %d", period)
	}
	return TF{Mult: mult, Period: period}, nil
}

// Must is New for package-level literals.
func Must(mult int, period Period) TF {
	tf, err := New(mult, period)
	if err != nil {
		panic(err)
	}
	return tf
}

// IsZero reports whether tf is the unknown timeframe.
func (tf TF) IsZero() bool {
	return tf.Mult == 0
}

func (tf TF) String() string {
	if tf.IsZero() {
		return "unknown"
	}
	return strconv.Itoa(tf.Mult) + tf.Period.String()
}

// Parse reads the "<mult><code>" form produced by String.
func Parse(s string) (TF, error) {
	if len(s) < 2 {
		return TF{}, fmt.Errorf("invalid timeframe %q", s)
	}
	code := s[len(s)-1:]
	mult, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return TF{}, fmt.Errorf("invalid timeframe multiplier in %q: %w", s, err)
	}
	for p, c := range periodCodes {
		if c == code {
			return New(mult, p)
		}
	}
	return TF{}, fmt.Errorf("%q is not a valid timeframe period code", code)
}

// Seconds returns the nominal length of tf in seconds.
func (tf TF) Seconds() int64 {
	return int64(tf.Mult) * nominalSeconds[tf.Period]
}

// Compare orders timeframes by resolution: -1 when tf is finer than o.
func (tf TF) Compare(o TF) int {
	a, b := tf.Seconds(), o.Seconds()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case tf.Period < o.Period:
		return -1
	case tf.Period > o.Period:
		return 1
	}
	return 0
}

// Less reports whether tf is a finer resolution than o.
func (tf TF) Less(o TF) bool {
	return tf.Compare(o) < 0
}

// IntraDay reports whether tf has a fixed duration shorter than a day.
func (tf TF) IntraDay() bool {
	switch tf.Period {
	case Second, Minute, Hour:
		return true
	}
	return false
}

// Duration returns the fixed duration of tf. Only sub-day periods have one.
func (tf TF) Duration() (time.Duration, bool) {
	switch tf.Period {
	case Second:
		return time.Duration(tf.Mult) * time.Second, true
	case Minute:
		return time.Duration(tf.Mult) * time.Minute, true
	case Hour:
		return time.Duration(tf.Mult) * time.Hour, true
	}
	return 0, false
}

// Approx returns the nominal duration of tf, including calendar periods.
func (tf TF) Approx() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// FromDuration converts an observed sampling stride into a timeframe.
// Strides of whole days map onto Day, Week, Month, Quarter or Year when they
// fall inside the calendar length of those periods.
func FromDuration(d time.Duration) (TF, error) {
	const day = 24 * time.Hour
	switch {
	case d <= 0:
		return TF{}, fmt.Errorf("timeframe stride must be positive, got %s", d)
	case d%time.Second != 0:
		return TF{}, fmt.Errorf("sub-second stride %s is not supported", d)
	case d < day:
		switch {
		case d%time.Hour == 0:
			return New(int(d/time.Hour), Hour)
		case d%time.Minute == 0:
			return New(int(d/time.Minute), Minute)
		default:
			return New(int(d/time.Second), Second)
		}
	}

	if d%day != 0 {
		// e.g. 25h, a daily series that crossed a DST shift; round to days.
		d = d.Round(day)
	}
	days := int(d / day)
	switch {
	case days < 7:
		return New(days, Day)
	case days%7 == 0 && days < 28:
		return New(days/7, Week)
	case days >= 28 && days <= 31:
		return New(1, Month)
	case days >= 59 && days <= 62:
		return New(2, Month)
	case days >= 89 && days <= 92:
		return New(1, Quarter)
	case days >= 181 && days <= 184:
		return New(2, Quarter)
	case days >= 365 && days <= 366:
		return New(1, Year)
	case days%7 == 0:
		return New(days/7, Week)
	}
	return New(days, Day)
}

// Add moves t forward by one timeframe using plain calendar arithmetic.
// No alignment to period boundaries is performed.
func (tf TF) Add(t time.Time) time.Time {
	return tf.AddN(t, 1)
}

// AddN moves t by n timeframes (n may be negative).
func (tf TF) AddN(t time.Time, n int) time.Time {
	m := tf.Mult * n
	switch tf.Period {
	case Second:
		return t.Add(time.Duration(m) * time.Second)
	case Minute:
		return t.Add(time.Duration(m) * time.Minute)
	case Hour:
		return t.Add(time.Duration(m) * time.Hour)
	case Day:
		return t.AddDate(0, 0, m)
	case Week:
		return t.AddDate(0, 0, 7*m)
	case Month:
		return t.AddDate(0, m, 0)
	case Quarter:
		return t.AddDate(0, 3*m, 0)
	case Year:
		return t.AddDate(m, 0, 0)
	}
	return t
}

// PeriodStart truncates t to the start of the calendar period containing it,
// in t's location. Weeks start on Monday. Sub-day periods truncate to the
// unit, not the multiple.
func (tf TF) PeriodStart(t time.Time) time.Time {
	y, mo, d := t.Date()
	loc := t.Location()
	switch tf.Period {
	case Second:
		return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
	case Minute:
		return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, loc)
	case Hour:
		return time.Date(y, mo, d, t.Hour(), 0, 0, 0, loc)
	case Day:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case Week:
		offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
		return time.Date(y, mo, d-offset, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	case Quarter:
		q := (int(mo) - 1) / 3
		return time.Date(y, time.Month(q*3+1), 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// NextPeriodStart returns the first period boundary strictly after t:
// the start of t's period moved forward by one timeframe.
func (tf TF) NextPeriodStart(t time.Time) time.Time {
	next := tf.Add(tf.PeriodStart(t))
	for !next.After(t) {
		next = tf.Add(next)
	}
	return next
}
