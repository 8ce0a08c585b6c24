package series

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"tsengine/pkg/calendar"

	"github.com/spf13/cast"
)

// fieldAliases lists the accepted column names per bar field. At most one
// alias per field may be present in a record set.
var fieldAliases = []struct {
	field   string
	aliases []string
}{
	{"time", []string{"time", "t", "dt", "date", "datetime", "timestamp"}},
	{"open", []string{"open", "o", "first"}},
	{"high", []string{"high", "h", "max"}},
	{"low", []string{"low", "l", "min"}},
	{"close", []string{"close", "c", "last"}},
	{"value", []string{"value", "val", "data", "price"}},
	{"volume", []string{"volume", "v", "vol"}},
	{"vwap", []string{"vwap", "vw"}},
	{"ticks", []string{"ticks", "tick", "count", "trade_count", "n"}},
	{"session", []string{"rth", "session"}},
}

var aliasIndex = func() map[string]string {
	m := make(map[string]string)
	for _, fa := range fieldAliases {
		for _, a := range fa.aliases {
			m[a] = fa.field
		}
	}
	return m
}()

// Table is a column-oriented record set, e.g. a decoded CSV or SQL result.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Maps converts t into one field map per row. Short rows leave the trailing columns unset.
func (t Table) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// columns maps a bar field onto the source key that carries it.
type columns map[string]string

func resolveColumns(keys []string) (columns, error) {
	cols := make(columns)
	seen := make(map[string][]string)
	for _, k := range keys {
		field, ok := aliasIndex[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		seen[field] = append(seen[field], k)
		cols[field] = k
	}
	for _, fa := range fieldAliases {
		if keys := seen[fa.field]; len(keys) > 1 {
			sort.Strings(keys)
			return nil, &FormatError{Field: fa.field, Columns: keys, Reason: "more than one column maps to the same field"}
		}
	}
	if _, ok := cols["time"]; !ok {
		return nil, &FormatError{Field: "time", Columns: keys, Reason: "no time column"}
	}
	return cols, nil
}

func (c columns) kind() Kind {
	if _, ok := c["close"]; ok {
		return OHLC
	}
	if _, ok := c["value"]; ok {
		return SingleValue
	}
	return Whitespace
}

// normalized is the outcome of parsing a record set.
type normalized struct {
	bars     []Bar
	kind     Kind
	sessions bool // a session column was present
}

func normalize(records []map[string]any) (normalized, error) {
	keySet := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols, err := resolveColumns(keys)
	if err != nil {
		return normalized{}, err
	}
	kind := cols.kind()
	_, hasSession := cols["session"]

	bars := make([]Bar, 0, len(records))
	for i, fields := range records {
		rec, err := parseFields(fields, cols, kind)
		if err != nil {
			if fe, ok := err.(*FormatError); ok {
				fe.Row = i + 1
			}
			return normalized{}, err
		}
		b := Bar{Record: rec}
		if hasSession {
			b.Session, b.Tagged = calendar.ParseSession(fields[cols["session"]])
		}
		bars = append(bars, b)
	}
	return normalized{bars: bars, kind: kind, sessions: hasSession}, nil
}

// ParseRecord turns one field map into a record through the same alias
// tables Load uses. The record's kind follows the fields present.
func ParseRecord(fields map[string]any) (Record, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cols, err := resolveColumns(keys)
	if err != nil {
		return Record{}, err
	}
	return parseFields(fields, cols, cols.kind())
}

type fieldTarget struct {
	field string
	dst   *float64
}

func parseFields(fields map[string]any, cols columns, kind Kind) (Record, error) {
	t, err := parseTime(fields[cols["time"]])
	if err != nil {
		return Record{}, &FormatError{Field: "time", Columns: []string{cols["time"]}, Reason: err.Error()}
	}
	rec := blank(kind, t)

	num := func(field string) (float64, error) {
		key, ok := cols[field]
		if !ok {
			return nan, nil
		}
		v, err := parseFloat(fields[key])
		if err != nil {
			return nan, &FormatError{Field: field, Columns: []string{key}, Reason: err.Error()}
		}
		return v, nil
	}

	targets := []fieldTarget{
		{"volume", &rec.Volume},
		{"ticks", &rec.Ticks},
		{"vwap", &rec.VWAP},
	}
	switch kind {
	case OHLC:
		targets = append(targets,
			fieldTarget{"close", &rec.Close},
			fieldTarget{"open", &rec.Open},
			fieldTarget{"high", &rec.High},
			fieldTarget{"low", &rec.Low},
		)
	case SingleValue:
		targets = append(targets, fieldTarget{"value", &rec.Value})
	}
	for _, tg := range targets {
		v, err := num(tg.field)
		if err != nil {
			return Record{}, err
		}
		*tg.dst = v
	}

	if kind == OHLC {
		// close-only feeds still form a valid OHLC bar
		for _, p := range []*float64{&rec.Open, &rec.High, &rec.Low} {
			if math.IsNaN(*p) {
				*p = rec.Close
			}
		}
	}
	return rec, nil
}

func parseFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return nan, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nan, nil
		}
	}
	return cast.ToFloat64E(v)
}

// parseTime coerces v to a UTC instant. Numbers and numeric strings are unix
// epochs whose unit is picked by magnitude.
func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x != nil {
			return x.UTC(), nil
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpochInt(n), nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n), nil
		}
		t, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	case int, int32, int64, uint32:
		n, err := cast.ToInt64E(x)
		if err != nil {
			return time.Time{}, err
		}
		return fromEpochInt(n), nil
	case uint64:
		if x > math.MaxInt64 {
			return time.Time{}, fmt.Errorf("epoch %d out of range", x)
		}
		return fromEpochInt(int64(x)), nil
	case float32, float64:
		n, err := cast.ToFloat64E(x)
		if err != nil {
			return time.Time{}, err
		}
		return fromEpoch(n), nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// fromEpochInt applies the same unit thresholds as fromEpoch without a float
// round trip, so nanosecond stamps keep full precision.
func fromEpochInt(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs > 1e17:
		return time.Unix(0, n).UTC()
	case abs > 1e14:
		return time.UnixMicro(n).UTC()
	case abs > 1e11:
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func fromEpoch(n float64) time.Time {
	abs := math.Abs(n)
	switch {
	case abs > 1e17:
		return time.Unix(0, int64(n)).UTC()
	case abs > 1e14:
		return time.UnixMicro(int64(n)).UTC()
	case abs > 1e11:
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
