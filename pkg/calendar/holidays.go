package calendar

import "time"

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// nthWeekday returns the n-th wd of the month; n < 0 counts from the end.
func nthWeekday(y int, m time.Month, wd time.Weekday, n int) time.Time {
	if n > 0 {
		first := date(y, m, 1)
		offset := (int(wd) - int(first.Weekday()) + 7) % 7
		return first.AddDate(0, 0, offset+7*(n-1))
	}
	last := date(y, m+1, 0)
	offset := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -offset+7*(n+1))
}

// easter returns Easter Sunday (anonymous Gregorian algorithm).
func easter(y int) time.Time {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	dd := (h+l-7*m+114)%31 + 1
	return date(y, time.Month(month), dd)
}

// observedUS moves a Saturday holiday to Friday and a Sunday holiday to Monday.
func observedUS(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

// usEquityHolidays lists full-day NYSE/NASDAQ closures for a year.
func usEquityHolidays(y int) []time.Time {
	out := []time.Time{
		nthWeekday(y, time.January, time.Monday, 3),  // Martin Luther King Jr. Day
		nthWeekday(y, time.February, time.Monday, 3), // Washington's Birthday
		easter(y).AddDate(0, 0, -2),                  // Good Friday
		nthWeekday(y, time.May, time.Monday, -1),     // Memorial Day
		observedUS(date(y, time.July, 4)),
		nthWeekday(y, time.September, time.Monday, 1),  // Labor Day
		nthWeekday(y, time.November, time.Thursday, 4), // Thanksgiving
		observedUS(date(y, time.December, 25)),
	}
	// A Saturday New Year's Day is not observed on the prior Friday.
	if ny := date(y, time.January, 1); ny.Weekday() != time.Saturday {
		out = append(out, observedUS(ny))
	}
	if y >= 2022 {
		out = append(out, observedUS(date(y, time.June, 19)))
	}
	return out
}

// ukHolidays lists London Stock Exchange closures for a year.
func ukHolidays(y int) []time.Time {
	out := []time.Time{
		easter(y).AddDate(0, 0, -2), // Good Friday
		easter(y).AddDate(0, 0, 1),  // Easter Monday
		nthWeekday(y, time.May, time.Monday, 1),
		nthWeekday(y, time.May, time.Monday, -1),
		nthWeekday(y, time.August, time.Monday, -1),
	}

	ny := date(y, time.January, 1)
	for ny.Weekday() == time.Saturday || ny.Weekday() == time.Sunday {
		ny = ny.AddDate(0, 0, 1)
	}
	out = append(out, ny)

	// Christmas and Boxing Day substitute onto the following free weekdays.
	taken := map[time.Time]bool{}
	for _, d := range []time.Time{date(y, time.December, 25), date(y, time.December, 26)} {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday || taken[d] {
			d = d.AddDate(0, 0, 1)
		}
		taken[d] = true
		out = append(out, d)
	}
	return out
}

// jpxHolidays covers the exchange's year-end closure only.
// TODO: add the Japanese national holiday table (equinoxes, Golden Week).
func jpxHolidays(y int) []time.Time {
	return []time.Time{
		date(y, time.January, 1),
		date(y, time.January, 2),
		date(y, time.January, 3),
		date(y, time.December, 31),
	}
}
