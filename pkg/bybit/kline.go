package bybit

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"tsengine/pkg/series"
)

// ParseKlineList converts REST kline rows to Klines ordered oldest first.
// Malformed rows are skipped. REST pages only carry closed candles, so
// Confirm is set except on the row whose interval has not ended yet.
func ParseKlineList(interval string, raw [][]string, now time.Time) ([]Kline, error) {
	meta, err := ParseKlineInterval(interval)
	if err != nil {
		return nil, err
	}

	out := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		if !numeric(row[1:7]...) {
			continue
		}

		end := meta.TF.Add(time.UnixMilli(start).UTC())
		out = append(out, Kline{
			Start:     start,
			End:       end.UnixMilli() - 1,
			Interval:  interval,
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
			Turnover:  row[6],
			Confirm:   !end.After(now),
			Timestamp: now.UnixMilli(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func numeric(vals ...string) bool {
	for _, v := range vals {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return false
		}
	}
	return true
}

// Fields renders the kline as a bar field map understood by series.Store.Load.
func (k Kline) Fields() map[string]any {
	return map[string]any{
		"time":   k.Start,
		"open":   k.Open,
		"high":   k.High,
		"low":    k.Low,
		"close":  k.Close,
		"volume": k.Volume,
	}
}

// Record converts the kline into an OHLC update for series.Store.Apply.
func (k Kline) Record() (series.Record, error) {
	rec, err := series.ParseRecord(k.Fields())
	if err != nil {
		return series.Record{}, fmt.Errorf("kline %d: %w", k.Start, err)
	}
	return rec, nil
}

// KlineFields converts a batch of klines for series.Store.Load.
func KlineFields(klines []Kline) []map[string]any {
	out := make([]map[string]any, len(klines))
	for i, k := range klines {
		out[i] = k.Fields()
	}
	return out
}
