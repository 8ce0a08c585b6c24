package series

import (
	"fmt"
	"sort"
	"time"

	"tsengine/pkg/calendar"
	"tsengine/pkg/timeframe"

	"go.uber.org/zap"
)

// inferWindow bounds the records used to infer a timeframe.
const inferWindow = 250

// Calendar is the part of the calendar cache a Store consumes.
// *calendar.Cache implements it.
type Calendar interface {
	RequestCalendar(exchange string, start, end time.Time) calendar.Token
	Release(tok calendar.Token)
	DateRange(tok calendar.Token, tf timeframe.TF, r calendar.Range, ext bool) ([]time.Time, error)
	NextTimestamp(tok calendar.Token, t time.Time, tf timeframe.TF, ext bool) (time.Time, error)
	MarkSession(tok calendar.Token, ts []time.Time) ([]calendar.Session, bool)
	SessionAt(tok calendar.Token, t time.Time) (calendar.Session, bool)
}

// Ext is the extended-hours flag of a store.
type Ext int8

const (
	ExtUnknown Ext = iota // no session information
	ExtFalse              // every row is regular session
	ExtTrue               // at least one row is outside regular hours
)

func (e Ext) String() string {
	switch e {
	case ExtFalse:
		return "false"
	case ExtTrue:
		return "true"
	}
	return "none"
}

// LoadResult tells a usable store from a degenerate one.
type LoadResult int8

const (
	Degenerate LoadResult = iota
	Loaded
)

// Apply outcomes reported to a Recorder.
const (
	OutcomeMutate  = "mutate"
	OutcomeAppend  = "append"
	OutcomeStale   = "stale"
	OutcomeIgnored = "ignored"
)

// Recorder receives store events. internal/metrics provides a Prometheus implementation.
type Recorder interface {
	BarApplied(outcome string)
	WhitespaceRegenerated()
}

type nopRecorder struct{}

func (nopRecorder) BarApplied(string)      {}
func (nopRecorder) WhitespaceRegenerated() {}

// Event tells observers what changed.
type Event int8

const (
	EventSet Event = iota
	EventUpdate
	EventClear
)

// Observer is called synchronously after every Load, Apply that changed data, and Clear.
type Observer func(ev Event, state BarState)

type Options struct {
	// Primary stores own a whitespace projection.
	Primary           bool
	WhitespaceBuffer  int
	WhitespaceOverlap int
	Logger            *zap.Logger
	Recorder          Recorder
}

// Store owns the bar sequence of one instrument and timeframe. It is not
// safe for concurrent use; the calendar it holds is.
type Store struct {
	cal    Calendar
	opts   Options
	logger *zap.Logger
	rec    Recorder

	kind  Kind
	tf    timeframe.TF
	tok   calendar.Token
	ext   Ext
	bars  []Bar
	next  time.Time
	state BarState
	ws    *Projector

	observers []Observer
}

func NewStore(cal Calendar, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	s := &Store{
		cal:    cal,
		opts:   opts,
		logger: logger.Named("series"),
		rec:    rec,
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	if s.tok != "" && s.tok != calendar.Always {
		s.cal.Release(s.tok)
	}
	s.kind = Whitespace
	s.tf = timeframe.TF{}
	s.tok = calendar.Always
	s.ext = ExtUnknown
	s.bars = nil
	s.next = time.Time{}
	s.state = DefaultBarState()
	s.ws = nil
}

// Load replaces the store's content with records. Fewer than two records
// leave the store degenerate. A *FormatError leaves the store untouched.
func (s *Store) Load(records []map[string]any, exchange string) (LoadResult, error) {
	if len(records) < 2 {
		return s.degenerate(len(records)), nil
	}
	n, err := normalize(records)
	if err != nil {
		return Degenerate, err
	}

	bars := n.bars
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	bars = dedupe(bars)
	if len(bars) < 2 {
		return s.degenerate(len(bars)), nil
	}

	tf, err := inferTimeframe(bars)
	if err != nil {
		return Degenerate, fmt.Errorf("infer timeframe: %w", err)
	}

	first, last := bars[0].Time, bars[len(bars)-1].Time
	tok := s.cal.RequestCalendar(exchange, first, last)
	ext := s.tagSessions(tok, tf, bars)

	next, err := s.cal.NextTimestamp(tok, last, tf, ext == ExtTrue)
	if err != nil {
		if tok != calendar.Always {
			s.cal.Release(tok)
		}
		return Degenerate, fmt.Errorf("predict next bar: %w", err)
	}

	s.reset()
	s.kind, s.tf, s.tok, s.ext = n.kind, tf, tok, ext
	s.bars = bars
	s.next = next
	s.state = newBarState(len(bars)-1, bars[len(bars)-1], next, last, false)

	s.logger.Info("series loaded",
		zap.String("exchange", exchange),
		zap.String("token", string(tok)),
		zap.String("timeframe", tf.String()),
		zap.Stringer("kind", n.kind),
		zap.Stringer("ext", ext),
		zap.Int("bars", len(bars)),
		zap.Time("first", first),
		zap.Time("last", last))

	err = s.regenerateWhitespace()
	s.notify(EventSet)
	return Loaded, err
}

// LoadTable is Load for column-oriented input.
func (s *Store) LoadTable(t Table, exchange string) (LoadResult, error) {
	return s.Load(t.Maps(), exchange)
}

func (s *Store) degenerate(n int) LoadResult {
	s.logger.Warn("not enough records to infer a timeframe, store left empty",
		zap.Int("records", n),
		zap.Error(ErrInsufficientData))
	s.reset()
	s.notify(EventSet)
	return Degenerate
}

// dedupe drops repeated timestamps from a sorted slice, keeping the first.
func dedupe(bars []Bar) []Bar {
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && b.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// inferTimeframe takes the most common positive gap between consecutive
// records; ties go to the shorter gap.
func inferTimeframe(bars []Bar) (timeframe.TF, error) {
	limit := len(bars)
	if limit > inferWindow {
		limit = inferWindow
	}
	counts := make(map[time.Duration]int)
	for i := 1; i < limit; i++ {
		if d := bars[i].Time.Sub(bars[i-1].Time); d > 0 {
			counts[d]++
		}
	}
	var best time.Duration
	for d, c := range counts {
		if c > counts[best] || (c == counts[best] && d < best) {
			best = d
		}
	}
	if best == 0 {
		return timeframe.TF{}, fmt.Errorf("no positive interval between records")
	}
	return timeframe.FromDuration(best)
}

// tagSessions classifies untagged rows through the calendar and derives the
// extended-hours flag. Sessions only apply to intraday timeframes.
func (s *Store) tagSessions(tok calendar.Token, tf timeframe.TF, bars []Bar) Ext {
	if tok != calendar.Always && tf.IntraDay() {
		var idx []int
		var ts []time.Time
		for i, b := range bars {
			if !b.Tagged {
				idx = append(idx, i)
				ts = append(ts, b.Time)
			}
		}
		if labels, ok := s.cal.MarkSession(tok, ts); ok {
			for k, i := range idx {
				bars[i].Session, bars[i].Tagged = labels[k], true
			}
		}
	}

	ext := ExtUnknown
	for _, b := range bars {
		if !b.Tagged {
			continue
		}
		if b.Session != calendar.Regular {
			return ExtTrue
		}
		ext = ExtFalse
	}
	return ext
}

// Apply folds one update into the store and returns the refreshed snapshot.
// Updates before the current bar are dropped. Updates before the predicted
// next open mutate the current bar; anything later appends a new one.
func (s *Store) Apply(upd Record, accumulate bool) (BarState, error) {
	if s.tf.IsZero() || len(s.bars) == 0 {
		s.logger.Debug("update ignored by an empty store", zap.Time("time", upd.Time))
		s.rec.BarApplied(OutcomeIgnored)
		return s.state, nil
	}
	upd.Time = upd.Time.UTC()

	cur := &s.bars[len(s.bars)-1]
	if upd.Time.Before(cur.Time) {
		s.logger.Debug("stale update dropped",
			zap.Time("time", upd.Time),
			zap.Time("bar_open", cur.Time))
		s.rec.BarApplied(OutcomeStale)
		return s.state, nil
	}

	if upd.Time.Before(s.next) {
		mutateTable[s.kind][upd.Kind](&cur.Record, upd)
		if s.kind != Whitespace {
			mergeCounters(&cur.Record, upd, accumulate)
		}
		s.state = newBarState(len(s.bars)-1, *cur, s.next, upd.Time, false)
		s.rec.BarApplied(OutcomeMutate)
		s.notify(EventUpdate)
		return s.state, nil
	}

	return s.appendBar(upd)
}

func (s *Store) appendBar(upd Record) (BarState, error) {
	t, err := s.snap(upd.Time)
	if err != nil {
		return s.state, fmt.Errorf("snap update to bar grid: %w", err)
	}

	row := appendTable[s.kind][upd.Kind](upd)
	row.Time = t
	if s.kind != Whitespace {
		row.Volume, row.Ticks, row.VWAP = upd.Volume, upd.Ticks, upd.VWAP
	}
	bar := Bar{Record: row}

	ext := s.ext
	if s.tok != calendar.Always && s.tf.IntraDay() {
		if sess, ok := s.cal.SessionAt(s.tok, t); ok {
			bar.Session, bar.Tagged = sess, true
			switch {
			case sess != calendar.Regular:
				ext = ExtTrue
			case ext == ExtUnknown:
				ext = ExtFalse
			}
		}
	}

	next, err := s.cal.NextTimestamp(s.tok, t, s.tf, ext == ExtTrue)
	if err != nil {
		return s.state, fmt.Errorf("predict next bar: %w", err)
	}

	flipped := (ext == ExtTrue) != (s.ext == ExtTrue)
	s.bars = append(s.bars, bar)
	s.ext = ext
	s.next = next
	s.state = newBarState(len(s.bars)-1, bar, next, upd.Time, true)
	s.rec.BarApplied(OutcomeAppend)

	if s.ws != nil {
		head, ok := s.ws.Head()
		switch {
		case flipped || !ok || !head.Equal(t):
			err = s.regenerateWhitespace()
		default:
			err = s.ws.Extend()
		}
	}
	s.notify(EventUpdate)
	return s.state, err
}

// snap moves an append back onto the bar grid. Fixed-duration timeframes use
// the remainder against the predicted open; calendar periods take the last
// valid open between the prediction and t.
func (s *Store) snap(t time.Time) (time.Time, error) {
	if t.Equal(s.next) {
		return t, nil
	}
	if d, ok := s.tf.Duration(); ok {
		return t.Add(-(t.Sub(s.next) % d)), nil
	}
	stamps, err := s.cal.DateRange(s.tok, s.tf, calendar.Range{Start: s.next, End: t}, s.ext == ExtTrue)
	if err != nil {
		return time.Time{}, err
	}
	if len(stamps) == 0 {
		return s.next, nil
	}
	return stamps[len(stamps)-1], nil
}

func (s *Store) regenerateWhitespace() error {
	if !s.opts.Primary || s.tf.IsZero() || len(s.bars) == 0 {
		s.ws = nil
		return nil
	}
	s.ws = NewProjector(s.cal, s.tok, s.tf, s.ext == ExtTrue,
		s.opts.WhitespaceBuffer, s.opts.WhitespaceOverlap, s.logger)

	overlap := s.opts.WhitespaceOverlap
	if overlap <= 0 {
		overlap = DefaultWhitespaceOverlap
	}
	from := len(s.bars) - overlap
	if from < 0 {
		from = 0
	}
	seed := make([]time.Time, 0, overlap)
	for _, b := range s.bars[from:] {
		seed = append(seed, b.Time)
	}

	s.rec.WhitespaceRegenerated()
	return s.ws.Regenerate(seed)
}

// SetPrimary grants or revokes ownership of a whitespace projection.
func (s *Store) SetPrimary(primary bool) error {
	s.opts.Primary = primary
	return s.regenerateWhitespace()
}

// Clear drops all data and releases the calendar.
func (s *Store) Clear() {
	s.reset()
	s.notify(EventClear)
}

// Subscribe registers an observer.
func (s *Store) Subscribe(obs Observer) {
	s.observers = append(s.observers, obs)
}

func (s *Store) notify(ev Event) {
	for _, obs := range s.observers {
		obs(ev, s.state)
	}
}

// BarTime returns the open time of the bar at index. Negative indices count
// from the end. A primary store reads past its last bar into the whitespace
// window. Indices outside both are clamped with a warning.
func (s *Store) BarTime(index int) time.Time {
	n := len(s.bars)
	if n == 0 {
		s.logger.Warn("bar time requested from an empty store", zap.Int("index", index))
		return epoch
	}
	i := index
	if i < 0 {
		i += n
	}
	if i < 0 {
		s.logger.Warn("bar index before the first bar, clamping", zap.Int("index", index), zap.Int("bars", n))
		return s.bars[0].Time
	}
	if i < n {
		return s.bars[i].Time
	}
	if s.ws != nil && s.ws.Len() > 0 {
		if t, ok := s.ws.At(i - n); ok {
			return t
		}
		s.logger.Warn("bar index beyond the whitespace window, clamping",
			zap.Int("index", index), zap.Int("bars", n), zap.Int("whitespace", s.ws.Len()))
		t, _ := s.ws.At(s.ws.Len() - 1)
		return t
	}
	s.logger.Warn("bar index beyond the last bar, clamping", zap.Int("index", index), zap.Int("bars", n))
	return s.bars[n-1].Time
}

func (s *Store) Snapshot() BarState { return s.state }

// Series returns a copy of the stored bars.
func (s *Store) Series() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Last returns the most recent bar.
func (s *Store) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

func (s *Store) Len() int                { return len(s.bars) }
func (s *Store) Kind() Kind              { return s.kind }
func (s *Store) Timeframe() timeframe.TF { return s.tf }
func (s *Store) Token() calendar.Token   { return s.tok }
func (s *Store) Ext() Ext                { return s.ext }
func (s *Store) NextBarTime() time.Time  { return s.next }
func (s *Store) Primary() bool           { return s.opts.Primary }

// Whitespace returns a copy of the projected opens, nil for non-primary stores.
func (s *Store) Whitespace() []time.Time {
	if s.ws == nil {
		return nil
	}
	return s.ws.Window()
}
