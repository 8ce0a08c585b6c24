package calendar

import (
	"sort"
	"time"
)

// Session labels a timestamp against a trading day.
// The numeric values match the integer encoding stored in an "rth" column.
type Session int8

const (
	Closed  Session = -1
	Regular Session = 0
	Pre     Session = 1
	Post    Session = 2
	Break   Session = 3
)

func (s Session) String() string {
	switch s {
	case Regular:
		return "regular"
	case Pre:
		return "pre"
	case Post:
		return "post"
	case Break:
		return "break"
	}
	return "closed"
}

// Extended reports whether s lies outside regular trading hours while the market is still trading.
func (s Session) Extended() bool {
	return s == Pre || s == Post
}

// ParseSession accepts either the integer encoding or the label.
func ParseSession(v any) (Session, bool) {
	switch x := v.(type) {
	case Session:
		return x, true
	case int:
		return sessionFromInt(int64(x))
	case int8:
		return sessionFromInt(int64(x))
	case int32:
		return sessionFromInt(int64(x))
	case int64:
		return sessionFromInt(x)
	case float64:
		if x != x { // NaN
			return Closed, false
		}
		return sessionFromInt(int64(x))
	case string:
		switch x {
		case "regular", "rth":
			return Regular, true
		case "pre":
			return Pre, true
		case "post":
			return Post, true
		case "break":
			return Break, true
		case "closed":
			return Closed, true
		}
	}
	return Closed, false
}

func sessionFromInt(v int64) (Session, bool) {
	switch Session(v) {
	case Closed, Regular, Pre, Post, Break:
		return Session(v), true
	}
	return Closed, false
}

// Day is one trading day of a schedule. Instants are absolute; unused
// segments (no pre-market, no lunch break, ...) are zero.
type Day struct {
	Date       time.Time // civil session date at 00:00 UTC
	Pre        time.Time
	Open       time.Time
	BreakStart time.Time
	BreakEnd   time.Time
	Close      time.Time
	Post       time.Time
}

// Start is the first traded instant of the day.
func (d Day) Start(ext bool) time.Time {
	if ext && !d.Pre.IsZero() {
		return d.Pre
	}
	return d.Open
}

// End is the instant trading stops for the day.
func (d Day) End(ext bool) time.Time {
	if ext && !d.Post.IsZero() {
		return d.Post
	}
	return d.Close
}

// blocks returns the contiguous traded intervals of the day, split only by the lunch break.
func (d Day) blocks(ext bool) [][2]time.Time {
	start, end := d.Start(ext), d.End(ext)
	if d.BreakStart.IsZero() || d.BreakEnd.IsZero() {
		return [][2]time.Time{{start, end}}
	}
	return [][2]time.Time{{start, d.BreakStart}, {d.BreakEnd, end}}
}

// Label classifies t using closed-left intervals.
func (d Day) Label(t time.Time) Session {
	switch {
	case !d.Pre.IsZero() && !t.Before(d.Pre) && t.Before(d.Open):
		return Pre
	case !t.Before(d.Open) && t.Before(d.Close):
		if !d.BreakStart.IsZero() && !t.Before(d.BreakStart) && t.Before(d.BreakEnd) {
			return Break
		}
		return Regular
	case !d.Post.IsZero() && !t.Before(d.Close) && t.Before(d.Post):
		return Post
	}
	return Closed
}

// labelIn finds the day containing t in a sorted day slice and labels t.
func labelIn(days []Day, t time.Time) Session {
	i := sort.Search(len(days), func(i int) bool {
		return days[i].End(true).After(t)
	})
	if i == len(days) {
		return Closed
	}
	return days[i].Label(t)
}
