package calendar

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tsengine/pkg/timeframe"

	"go.uber.org/zap"
)

// Token identifies a cached trading schedule.
type Token string

// Always is the calendar-naive token: every instant is tradable.
const Always Token = "24/7"

const (
	// DefaultPadding is added on both sides of a requested window before a schedule is built.
	DefaultPadding = 7 * 24 * time.Hour
	// DefaultExpandIncrement widens a schedule that was too short for a date range.
	DefaultExpandIncrement = 16 * 7 * 24 * time.Hour
	// DefaultMaxAttempts bounds the retry-and-expand loop of DateRange.
	DefaultMaxAttempts = 3
)

// Recorder receives cache events. internal/metrics provides a Prometheus implementation.
type Recorder interface {
	ScheduleExtended(token string, days int)
	CalendarRefs(token string, refs int64)
}

type nopRecorder struct{}

func (nopRecorder) ScheduleExtended(string, int) {}
func (nopRecorder) CalendarRefs(string, int64)   {}

// Options configure a Cache. Zero values select the defaults.
type Options struct {
	Padding         time.Duration
	ExpandIncrement time.Duration
	MaxAttempts     int
	Logger          *zap.Logger
	Recorder        Recorder
	// Sources replaces the built-in calendars when non-nil.
	Sources []Source
}

// Range bounds a DateRange request. End is inclusive; when both End and
// Periods are set, whichever is reached first stops the range.
type Range struct {
	Start   time.Time
	End     time.Time
	Periods int
}

// Cache resolves exchange names to tokens and shares trading schedules across
// every consumer of the same calendar. Schedules only ever grow.
type Cache struct {
	mu        sync.RWMutex
	sources   map[Token]Source
	names     map[string]Token
	alt       map[string]Token
	schedules map[Token]*schedule

	opts   Options
	logger *zap.Logger
	rec    Recorder
}

// NewCache creates a calendar cache with the built-in calendars registered.
func NewCache(opts Options) (*Cache, error) {
	if opts.Padding <= 0 {
		opts.Padding = DefaultPadding
	}
	if opts.ExpandIncrement <= 0 {
		opts.ExpandIncrement = DefaultExpandIncrement
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	c := &Cache{
		sources:   make(map[Token]Source),
		names:     make(map[string]Token),
		alt:       make(map[string]Token),
		schedules: make(map[Token]*schedule),
		opts:      opts,
		logger:    logger.Named("calendar"),
		rec:       rec,
	}
	for name, canonical := range altExchangeNames {
		c.alt[name] = Token(canonical)
	}

	if opts.Sources != nil {
		for _, src := range opts.Sources {
			c.Register(src)
		}
		return c, nil
	}

	builtins, err := builtinSources()
	if err != nil {
		return nil, fmt.Errorf("build calendars: %w", err)
	}
	for src, aliases := range builtins {
		c.Register(src, aliases...)
	}
	return c, nil
}

// Register installs a schedule source under its name and the given aliases.
func (c *Cache) Register(src Source, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok := Token(src.Name())
	c.sources[tok] = src
	c.names[strings.ToLower(src.Name())] = tok
	for _, a := range aliases {
		c.names[strings.ToLower(a)] = tok
	}
}

// Alias adds an alternate exchange name. Alternate names win over calendar names.
func (c *Cache) Alias(name string, tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alt[strings.ToLower(name)] = tok
}

// Names lists the registered calendar tokens.
func (c *Cache) Names() []Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Token, 0, len(c.sources))
	for tok := range c.sources {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// resolve maps a free-text exchange name onto a token.
func (c *Cache) resolve(exchange string) (Token, bool) {
	name := strings.ToLower(strings.TrimSpace(exchange))
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tok, ok := c.alt[name]; ok {
		return tok, true
	}
	if tok, ok := c.names[name]; ok {
		return tok, true
	}
	return Always, false
}

// RequestCalendar resolves exchange and makes sure its schedule covers
// [start, end] plus padding. Unknown names log a warning and map to Always.
// Every call that returns a real calendar holds a reference until Release.
func (c *Cache) RequestCalendar(exchange string, start, end time.Time) Token {
	if strings.TrimSpace(exchange) == "" {
		return Always
	}
	tok, ok := c.resolve(exchange)
	if !ok {
		c.logger.Warn("exchange doesn't match any known calendar, using 24/7",
			zap.String("exchange", exchange))
		return Always
	}
	if tok == Always {
		return Always
	}

	sched, err := c.scheduleFor(tok)
	if err != nil {
		c.logger.Warn("calendar alias points at an unregistered calendar, using 24/7",
			zap.String("exchange", exchange), zap.String("token", string(tok)))
		return Always
	}

	if end.Before(start) {
		start, end = end, start
	}
	loc := sched.src.Location()
	c.extend(tok, sched,
		civil(start.Add(-c.opts.Padding), loc),
		civil(end.Add(c.opts.Padding), loc))

	refs := sched.refs.Add(1)
	c.rec.CalendarRefs(string(tok), refs)
	return tok
}

// Release drops one reference taken by RequestCalendar. Cached rows are kept.
func (c *Cache) Release(tok Token) {
	if tok == Always {
		return
	}
	c.mu.RLock()
	sched, ok := c.schedules[tok]
	c.mu.RUnlock()
	if !ok {
		return
	}
	refs := sched.refs.Add(-1)
	if refs < 0 {
		sched.refs.Store(0)
		refs = 0
	}
	c.rec.CalendarRefs(string(tok), refs)
}

// Refs returns the number of live references to tok.
func (c *Cache) Refs(tok Token) int64 {
	c.mu.RLock()
	sched, ok := c.schedules[tok]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return sched.refs.Load()
}

// Covered returns the civil dates the cached schedule of tok spans.
func (c *Cache) Covered(tok Token) (first, last time.Time, ok bool) {
	c.mu.RLock()
	sched, found := c.schedules[tok]
	c.mu.RUnlock()
	if !found {
		return time.Time{}, time.Time{}, false
	}
	return sched.coverage()
}

// scheduleFor returns the schedule of tok, creating an empty one on first use.
func (c *Cache) scheduleFor(tok Token) (*schedule, error) {
	c.mu.RLock()
	sched, ok := c.schedules[tok]
	c.mu.RUnlock()
	if ok {
		return sched, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sched, ok = c.schedules[tok]; ok {
		return sched, nil
	}
	src, ok := c.sources[tok]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalendar, tok)
	}
	sched = newSchedule(src)
	c.schedules[tok] = sched
	return sched, nil
}

// loaded returns the schedule of a token that has been requested before.
func (c *Cache) loaded(tok Token) (*schedule, error) {
	c.mu.RLock()
	sched, ok := c.schedules[tok]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalendar, tok)
	}
	return sched, nil
}

func (c *Cache) extend(tok Token, sched *schedule, from, to time.Time) {
	if added := sched.ensure(from, to); added > 0 {
		first, last, _ := sched.coverage()
		c.logger.Debug("extended calendar schedule",
			zap.String("token", string(tok)),
			zap.Int("days_added", added),
			zap.Time("first", first),
			zap.Time("last", last))
		c.rec.ScheduleExtended(string(tok), added)
	}
}

// MarkSession labels every timestamp with its trading session. ok is false
// for Always, where no session concept applies.
func (c *Cache) MarkSession(tok Token, ts []time.Time) ([]Session, bool) {
	if tok == Always || len(ts) == 0 {
		return nil, false
	}
	sched, err := c.loaded(tok)
	if err != nil {
		c.logger.Warn("session marking requested for an unloaded calendar", zap.String("token", string(tok)))
		return nil, false
	}

	lo, hi := ts[0], ts[0]
	for _, t := range ts[1:] {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	loc := sched.src.Location()
	c.extend(tok, sched, civil(lo, loc).Add(-day), civil(hi, loc).Add(day))
	return sched.label(ts), true
}

// SessionAt labels a single timestamp.
func (c *Cache) SessionAt(tok Token, t time.Time) (Session, bool) {
	out, ok := c.MarkSession(tok, []time.Time{t})
	if !ok {
		return Closed, false
	}
	return out[0], true
}

// DateRange returns valid bar-open timestamps for tf between the bounds of r.
func (c *Cache) DateRange(tok Token, tf timeframe.TF, r Range, ext bool) ([]time.Time, error) {
	if tf.IsZero() {
		return nil, fmt.Errorf("date range: unknown timeframe")
	}
	if tf.Period == timeframe.Tick {
		return nil, ErrNoStride
	}
	if r.End.IsZero() && r.Periods <= 0 {
		return nil, fmt.Errorf("date range: either an end or a period count is required")
	}
	if tok == Always {
		return alwaysRange(tf, r), nil
	}
	sched, err := c.loaded(tok)
	if err != nil {
		return nil, err
	}

	if step, ok := tf.Duration(); ok {
		return c.retry(tok, sched, r, func() ([]time.Time, side, time.Time) {
			return sched.intradayRange(step, r, ext)
		})
	}

	switch tf.Period {
	case timeframe.Day:
		ident := func(d time.Time) time.Time { return d }
		next := func(d time.Time) time.Time { return d.AddDate(0, 0, 1) }
		return c.retry(tok, sched, r, func() ([]time.Time, side, time.Time) {
			return sched.dayRange(r, ext, ident, next, tf.Mult)
		})
	default:
		// Periods are computed on civil dates in the exchange's own zone.
		start := func(d time.Time) time.Time { return tf.PeriodStart(d) }
		next := func(d time.Time) time.Time { return tf.Add(tf.PeriodStart(d)) }
		return c.retry(tok, sched, r, func() ([]time.Time, side, time.Time) {
			return sched.dayRange(r, ext, start, next, 0)
		})
	}
}

// retry runs attempt until the cached schedule satisfies it, widening the
// deficient side by ExpandIncrement past the estimated need after each miss.
func (c *Cache) retry(tok Token, sched *schedule, r Range, attempt func() ([]time.Time, side, time.Time)) ([]time.Time, error) {
	for i := 0; i < c.opts.MaxAttempts; i++ {
		out, short, need := attempt()
		if short == sideNone {
			return out, nil
		}

		first, last, ok := sched.coverage()
		switch {
		case !ok:
			from := civil(r.Start, time.UTC).Add(-c.opts.Padding)
			c.extend(tok, sched, from, from.Add(c.opts.ExpandIncrement))
		case short == sideStart:
			from := need.Add(-c.opts.ExpandIncrement).Truncate(day)
			c.extend(tok, sched, from, last)
		default:
			to := need
			if to.Before(last) {
				to = last
			}
			c.extend(tok, sched, first, to.Add(c.opts.ExpandIncrement).Truncate(day))
		}
	}

	first, last, _ := sched.coverage()
	return nil, &ScheduleError{
		Token:    tok,
		Start:    r.Start,
		End:      r.End,
		Periods:  r.Periods,
		Attempts: c.opts.MaxAttempts,
		First:    first,
		Last:     last,
	}
}

// NextTimestamp returns the next valid bar open strictly after t.
func (c *Cache) NextTimestamp(tok Token, t time.Time, tf timeframe.TF, ext bool) (time.Time, error) {
	if tf.IsZero() {
		return time.Time{}, fmt.Errorf("next timestamp: unknown timeframe")
	}
	if tf.Period == timeframe.Tick {
		return time.Time{}, ErrNoStride
	}
	// Calendar-naive series keep their own phase: t is a bar open.
	if tok == Always {
		return tf.Add(t), nil
	}

	var next time.Time
	switch tf.Period {
	case timeframe.Week, timeframe.Month, timeframe.Quarter, timeframe.Year:
		next = tf.NextPeriodStart(t.UTC())
	default:
		next = tf.Add(t)
	}

	sched, err := c.loaded(tok)
	if err != nil {
		return time.Time{}, err
	}

	if tf.IntraDay() {
		if open, ok := sched.openAt(next, ext); ok && open {
			return next, nil
		}
		// The next two opens from t: when t is itself an open the later one is
		// the answer, otherwise the earlier one already lies after t.
		stamps, err := c.DateRange(tok, tf, Range{Start: t, Periods: 2}, ext)
		if err != nil {
			return time.Time{}, err
		}
		for _, s := range stamps {
			if s.After(t) {
				return s, nil
			}
		}
		return time.Time{}, fmt.Errorf("next timestamp: no session open after %s", t)
	}

	// Day and coarser: validate the arithmetic step against the trading days.
	// Starting half a period early keeps opens that precede 00:00 UTC.
	stamps, err := c.DateRange(tok, tf, Range{Start: next.Add(-tf.Approx() / 2), Periods: 3}, ext)
	if err != nil {
		return time.Time{}, err
	}
	for _, s := range stamps {
		if s.After(t) {
			return s, nil
		}
	}
	return time.Time{}, fmt.Errorf("next timestamp: no session open after %s", t)
}

// alwaysRange produces a calendar-naive range striding from Start, which is
// taken to be on the series' grid. Each stamp is Start + i periods so month
// ends do not drift.
func alwaysRange(tf timeframe.TF, r Range) []time.Time {
	var out []time.Time
	for i := 0; ; i++ {
		t := tf.AddN(r.Start, i)
		if !r.End.IsZero() && t.After(r.End) {
			return out
		}
		out = append(out, t)
		if r.Periods > 0 && len(out) == r.Periods {
			return out
		}
	}
}
