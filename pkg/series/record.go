package series

import (
	"math"
	"time"

	"tsengine/pkg/calendar"
)

// Kind is the shape of a bar record.
type Kind int8

const (
	Whitespace Kind = iota
	SingleValue
	OHLC
)

func (k Kind) String() string {
	switch k {
	case SingleValue:
		return "single-value"
	case OHLC:
		return "ohlc"
	}
	return "whitespace"
}

// Record is one bar-shaped sample. Fields the shape does not carry are NaN.
type Record struct {
	Kind   Kind
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Value  float64
	Volume float64
	Ticks  float64
	VWAP   float64
}

var nan = math.NaN()

func blank(kind Kind, t time.Time) Record {
	return Record{
		Kind:   kind,
		Time:   t,
		Open:   nan,
		High:   nan,
		Low:    nan,
		Close:  nan,
		Value:  nan,
		Volume: nan,
		Ticks:  nan,
		VWAP:   nan,
	}
}

// NewWhitespace returns a time-only record.
func NewWhitespace(t time.Time) Record {
	return blank(Whitespace, t.UTC())
}

// NewValue returns a single-value record.
func NewValue(t time.Time, v float64) Record {
	r := blank(SingleValue, t.UTC())
	r.Value = v
	return r
}

// NewOHLC returns an OHLC record.
func NewOHLC(t time.Time, open, high, low, close float64) Record {
	r := blank(OHLC, t.UTC())
	r.Open, r.High, r.Low, r.Close = open, high, low, close
	return r
}

// WithVolume returns a copy of r carrying volume.
func (r Record) WithVolume(v float64) Record {
	r.Volume = v
	return r
}

// Price is the close of an OHLC record and the value of a single-value one.
func (r Record) Price() float64 {
	switch r.Kind {
	case OHLC:
		return r.Close
	case SingleValue:
		return r.Value
	}
	return nan
}

// Bar is a stored record plus the session it was classified into.
type Bar struct {
	Record
	Session calendar.Session
	Tagged  bool
}

// mutateTable folds an update into the current bar, indexed by [store kind][update kind].
// Time is never touched: a mutated bar stays pinned to its open.
var mutateTable = [3][3]func(cur *Record, upd Record){
	Whitespace: {
		Whitespace:  func(*Record, Record) {},
		SingleValue: func(*Record, Record) {},
		OHLC:        func(*Record, Record) {},
	},
	SingleValue: {
		Whitespace: func(*Record, Record) {},
		SingleValue: func(cur *Record, upd Record) {
			cur.Value = upd.Value
		},
		OHLC: func(cur *Record, upd Record) {
			cur.Value = upd.Close
		},
	},
	OHLC: {
		Whitespace: func(*Record, Record) {},
		SingleValue: func(cur *Record, upd Record) {
			cur.High = nanMax(cur.High, upd.Value)
			cur.Low = nanMin(cur.Low, upd.Value)
			cur.Close = upd.Value
		},
		OHLC: func(cur *Record, upd Record) {
			cur.High = nanMax(cur.High, upd.High)
			cur.Low = nanMin(cur.Low, upd.Low)
			cur.Close = upd.Close
		},
	},
}

// appendTable coerces an update into a new bar of the store's kind, indexed by [store kind][update kind].
var appendTable = [3][3]func(upd Record) Record{
	Whitespace: {
		Whitespace:  func(upd Record) Record { return blank(Whitespace, upd.Time) },
		SingleValue: func(upd Record) Record { return blank(Whitespace, upd.Time) },
		OHLC:        func(upd Record) Record { return blank(Whitespace, upd.Time) },
	},
	SingleValue: {
		Whitespace: func(upd Record) Record { return blank(SingleValue, upd.Time) },
		SingleValue: func(upd Record) Record {
			return NewValue(upd.Time, upd.Value)
		},
		OHLC: func(upd Record) Record {
			return NewValue(upd.Time, upd.Close)
		},
	},
	OHLC: {
		Whitespace: func(upd Record) Record { return blank(OHLC, upd.Time) },
		SingleValue: func(upd Record) Record {
			v := upd.Value
			return NewOHLC(upd.Time, v, v, v, v)
		},
		OHLC: func(upd Record) Record {
			return NewOHLC(upd.Time, upd.Open, upd.High, upd.Low, upd.Close)
		},
	},
}

// mergeCounters folds volume and tick count into cur. A field merges only when
// both sides carry it; accumulate sums instead of overwriting.
func mergeCounters(cur *Record, upd Record, accumulate bool) {
	cur.Volume = mergeCounter(cur.Volume, upd.Volume, accumulate)
	cur.Ticks = mergeCounter(cur.Ticks, upd.Ticks, accumulate)
	if !math.IsNaN(upd.VWAP) && cur.Kind != Whitespace {
		cur.VWAP = upd.VWAP
	}
}

func mergeCounter(cur, upd float64, accumulate bool) float64 {
	switch {
	case math.IsNaN(cur) || math.IsNaN(upd):
		return cur
	case accumulate:
		return cur + upd
	}
	return upd
}

func nanMax(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Max(a, b)
}

func nanMin(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Min(a, b)
}
