package calendar

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Source produces the trading days of one exchange calendar.
type Source interface {
	// Name is the canonical calendar name, used as the Token.
	Name() string
	// Location is the exchange's local time zone; civil dates are taken in it.
	Location() *time.Location
	// HasPre reports whether the calendar defines a pre-market session.
	HasPre() bool
	// Days returns the trading days whose civil date lies in [from, to], sorted.
	// from and to are civil dates at 00:00 UTC.
	Days(from, to time.Time) []Day
}

const day = 24 * time.Hour

// civil returns the calendar date of t in loc, expressed as 00:00 UTC.
func civil(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// schedule is the cached, append-only table of trading days for one token.
// Queries hold mu for reading; extensions hold it for writing.
type schedule struct {
	mu    sync.RWMutex
	src   Source
	days  []Day
	first time.Time // first covered civil date, inclusive
	last  time.Time // last covered civil date, inclusive
	refs  atomic.Int64
}

func newSchedule(src Source) *schedule {
	return &schedule{src: src}
}

type side int

const (
	sideNone side = iota
	sideStart
	sideEnd
)

// ensure widens the cached coverage so it spans [from, to] (civil dates).
// Cached rows are never rebuilt; only the missing side(s) are generated.
// It returns the number of days added.
func (s *schedule) ensure(from, to time.Time) int {
	s.mu.RLock()
	covered := !s.first.IsZero() && !from.Before(s.first) && !to.After(s.last)
	s.mu.RUnlock()
	if covered {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.first.IsZero() {
		s.days = s.src.Days(from, to)
		s.first, s.last = from, to
		return len(s.days)
	}

	added := 0
	if from.Before(s.first) {
		extra := s.src.Days(from, s.first.Add(-day))
		merged := make([]Day, 0, len(extra)+len(s.days))
		merged = append(merged, extra...)
		s.days = append(merged, s.days...)
		s.first = from
		added += len(extra)
	}
	if to.After(s.last) {
		extra := s.src.Days(s.last.Add(day), to)
		s.days = append(s.days, extra...)
		s.last = to
		added += len(extra)
	}
	return added
}

func (s *schedule) coverage() (time.Time, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.first, s.last, !s.first.IsZero()
}

// covers reports whether t's civil date is inside the cached window. Caller holds mu.
func (s *schedule) covers(t time.Time) bool {
	c := civil(t, s.src.Location())
	return !s.first.IsZero() && !c.Before(s.first) && !c.After(s.last)
}

// openAt reports whether t is inside a traded session. ok is false when t is
// outside the cached window and no answer can be given.
func (s *schedule) openAt(t time.Time, ext bool) (open, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.covers(t) {
		return false, false
	}
	switch labelIn(s.days, t) {
	case Regular:
		return true, true
	case Pre, Post:
		return ext, true
	}
	return false, true
}

func (s *schedule) label(ts []time.Time) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, len(ts))
	for i, t := range ts {
		out[i] = labelIn(s.days, t)
	}
	return out
}

// intradayRange walks cached sessions from r.Start in steps of step. When the
// cached window cannot satisfy r it reports the deficient side and an estimate
// of the civil date the schedule must reach.
func (s *schedule) intradayRange(step time.Duration, r Range, ext bool) ([]time.Time, side, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc := s.src.Location()
	startDate := civil(r.Start, loc)
	if s.first.IsZero() || startDate.Before(s.first) {
		return nil, sideStart, startDate
	}

	var out []time.Time
	i := sort.Search(len(s.days), func(i int) bool {
		return s.days[i].End(ext).After(r.Start)
	})
	for ; i < len(s.days); i++ {
		for _, b := range s.days[i].blocks(ext) {
			for t := b[0]; t.Before(b[1]); t = t.Add(step) {
				if t.Before(r.Start) {
					continue
				}
				if !r.End.IsZero() && t.After(r.End) {
					return out, sideNone, time.Time{}
				}
				out = append(out, t)
				if r.Periods > 0 && len(out) == r.Periods {
					return out, sideNone, time.Time{}
				}
			}
		}
	}

	if !r.End.IsZero() {
		endDate := civil(r.End, loc)
		if !endDate.After(s.last) {
			return out, sideNone, time.Time{}
		}
		return out, sideEnd, endDate
	}

	// Periods still missing: extrapolate from what the covered span produced.
	span := s.last.Add(day).Sub(startDate)
	missing := r.Periods - len(out)
	var need time.Duration
	if len(out) > 0 {
		need = time.Duration(float64(span) / float64(len(out)) * float64(missing))
	} else {
		need = time.Duration(missing) * step * 3
	}
	return out, sideEnd, s.last.Add(need)
}

// dayRange emits, for each consecutive group produced by next, the opening
// instant of the group's first trading day. groupStart must return the civil
// start of the group containing a civil date and next the start of the
// following group.
func (s *schedule) dayRange(r Range, ext bool, groupStart func(time.Time) time.Time, next func(time.Time) time.Time, everyN int) ([]time.Time, side, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc := s.src.Location()
	startDate := civil(r.Start, loc)
	if s.first.IsZero() || groupStart(startDate).Before(s.first) {
		return nil, sideStart, groupStart(startDate)
	}

	openOf := func(d Day) time.Time {
		if ext && s.src.HasPre() && !d.Pre.IsZero() {
			return d.Pre
		}
		return d.Open
	}

	var out []time.Time
	emit := func(t time.Time) bool {
		if t.Before(r.Start) {
			return false
		}
		if !r.End.IsZero() && t.After(r.End) {
			return true
		}
		out = append(out, t)
		return r.Periods > 0 && len(out) == r.Periods
	}

	if everyN > 0 {
		// Day timeframes: every n-th trading day from the first one not before start.
		i := sort.Search(len(s.days), func(i int) bool {
			return !openOf(s.days[i]).Before(r.Start)
		})
		for ; i < len(s.days); i += everyN {
			if emit(openOf(s.days[i])) {
				return out, sideNone, time.Time{}
			}
		}
	} else {
		g := groupStart(startDate)
		for {
			end := next(g)
			i := sort.Search(len(s.days), func(i int) bool {
				return !s.days[i].Date.Before(g)
			})
			if i < len(s.days) && s.days[i].Date.Before(end) {
				if emit(openOf(s.days[i])) {
					return out, sideNone, time.Time{}
				}
			} else if end.Add(-day).After(s.last) {
				// group runs past the cached window without a known trading day
				break
			}
			g = end
		}
	}

	if !r.End.IsZero() && !civil(r.End, loc).After(s.last) {
		return out, sideNone, time.Time{}
	}
	if !r.End.IsZero() {
		return out, sideEnd, next(groupStart(civil(r.End, loc)))
	}
	missing := r.Periods - len(out)
	span := s.last.Add(day).Sub(startDate)
	var need time.Duration
	if len(out) > 0 {
		need = time.Duration(float64(span) / float64(len(out)) * float64(missing))
	} else {
		need = next(groupStart(s.last)).Sub(s.last) * time.Duration(missing+1)
	}
	return out, sideEnd, s.last.Add(need)
}
