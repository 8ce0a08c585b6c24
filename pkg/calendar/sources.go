package calendar

import (
	"fmt"
	"time"

	_ "time/tzdata" // exchange time zones must resolve on hosts without zoneinfo
)

// noTime marks an unused segment in a rule.
const noTime = -1

// hm encodes a wall-clock time as minutes after midnight.
func hm(h, m int) int { return h*60 + m }

// RuleSource builds trading days from fixed wall-clock session times, a
// weekday mask and a holiday function. It covers calendars without
// half-days or ad hoc closures.
type RuleSource struct {
	name       string
	loc        *time.Location
	pre        int
	open       int
	breakStart int
	breakEnd   int
	close      int
	post       int
	weekend    map[time.Weekday]bool
	holidays   func(year int) []time.Time

	// year -> closure set
	closures map[int]map[time.Time]bool
}

// Rules are the wall-clock session boundaries of a RuleSource, in minutes after midnight.
// Use noTime (-1) for segments the exchange does not have.
type Rules struct {
	Pre, Open, BreakStart, BreakEnd, Close, Post int
}

// NewRuleSource builds a rule-based calendar. holidays may be nil.
func NewRuleSource(name, tz string, rules Rules, holidays func(int) []time.Time) (*RuleSource, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load location %s: %w", tz, err)
	}
	if rules.Open < 0 || rules.Close <= rules.Open {
		return nil, fmt.Errorf("calendar %s: close must follow open", name)
	}
	return &RuleSource{
		name:       name,
		loc:        loc,
		pre:        rules.Pre,
		open:       rules.Open,
		breakStart: rules.BreakStart,
		breakEnd:   rules.BreakEnd,
		close:      rules.Close,
		post:       rules.Post,
		weekend:    map[time.Weekday]bool{time.Saturday: true, time.Sunday: true},
		holidays:   holidays,
		closures:   make(map[int]map[time.Time]bool),
	}, nil
}

func (r *RuleSource) Name() string             { return r.name }
func (r *RuleSource) Location() *time.Location { return r.loc }
func (r *RuleSource) HasPre() bool             { return r.pre != noTime }

// Days implements Source. Called only under the owning schedule's write lock.
func (r *RuleSource) Days(from, to time.Time) []Day {
	var out []Day
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if r.weekend[d.Weekday()] || r.closed(d) {
			continue
		}
		out = append(out, r.day(d))
	}
	return out
}

func (r *RuleSource) closed(d time.Time) bool {
	if r.holidays == nil {
		return false
	}
	set, ok := r.closures[d.Year()]
	if !ok {
		set = make(map[time.Time]bool)
		for _, h := range r.holidays(d.Year()) {
			set[h] = true
		}
		r.closures[d.Year()] = set
	}
	return set[d]
}

func (r *RuleSource) day(d time.Time) Day {
	at := func(minutes int) time.Time {
		if minutes == noTime {
			return time.Time{}
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 0, minutes, 0, 0, r.loc).UTC()
	}
	return Day{
		Date:       d,
		Pre:        at(r.pre),
		Open:       at(r.open),
		BreakStart: at(r.breakStart),
		BreakEnd:   at(r.breakEnd),
		Close:      at(r.close),
		Post:       at(r.post),
	}
}

// builtinSources returns the calendars known out of the box with their aliases.
func builtinSources() (map[Source][]string, error) {
	us := Rules{Pre: hm(4, 0), Open: hm(9, 30), BreakStart: noTime, BreakEnd: noTime, Close: hm(16, 0), Post: hm(20, 0)}

	nyse, err := NewRuleSource("NYSE", "America/New_York", us, usEquityHolidays)
	if err != nil {
		return nil, err
	}
	nasdaq, err := NewRuleSource("NASDAQ", "America/New_York", us, usEquityHolidays)
	if err != nil {
		return nil, err
	}
	jpx, err := NewRuleSource("JPX", "Asia/Tokyo", Rules{
		Pre: noTime, Open: hm(9, 0), BreakStart: hm(11, 30), BreakEnd: hm(12, 30), Close: hm(15, 30), Post: noTime,
	}, jpxHolidays)
	if err != nil {
		return nil, err
	}
	lse, err := NewRuleSource("LSE", "Europe/London", Rules{
		Pre: noTime, Open: hm(8, 0), BreakStart: noTime, BreakEnd: noTime, Close: hm(16, 30), Post: noTime,
	}, ukHolidays)
	if err != nil {
		return nil, err
	}
	fx, err := NewRuleSource("24/5", "UTC", Rules{
		Pre: noTime, Open: 0, BreakStart: noTime, BreakEnd: noTime, Close: hm(24, 0), Post: noTime,
	}, nil)
	if err != nil {
		return nil, err
	}

	return map[Source][]string{
		nyse:   {"XNYS", "stock", "NYSE American"},
		nasdaq: {"NASDAQ Stock Market"},
		jpx:    {"XTKS", "TSE"},
		lse:    {"XLON"},
		fx:     nil,
	}, nil
}

// altExchangeNames are names that may be passed as an exchange argument but are
// not calendar names. They take priority over the primary table.
var altExchangeNames = map[string]string{
	"xnas":       "NASDAQ",
	"arca":       "NYSE",
	"forex":      "24/5",
	"alpaca":     string(Always),
	"polygon":    string(Always),
	"polygon.io": string(Always),
	"coinbase":   string(Always),
	"kraken":     string(Always),
	"crypto":     string(Always),
	"bybit":      string(Always),
	"binance":    string(Always),
}
