package bybit

import (
	"fmt"

	"tsengine/pkg/timeframe"
)

// KlineInterval is the interval type used for API requests
type KlineInterval string

// KlineIntervalMeta ties a Bybit interval to the timeframe its bars are stored under.
type KlineIntervalMeta struct {
	APIValue string
	TF       timeframe.TF
}

// DBValue is the timeframe label written to the archive, e.g. "1m", "4h", "1D".
func (m KlineIntervalMeta) DBValue() string {
	return m.TF.String()
}

const (
	Interval1Min    KlineInterval = "1"
	Interval3Min    KlineInterval = "3"
	Interval5Min    KlineInterval = "5"
	Interval15Min   KlineInterval = "15"
	Interval30Min   KlineInterval = "30"
	Interval60Min   KlineInterval = "60"
	Interval120Min  KlineInterval = "120"
	Interval240Min  KlineInterval = "240"
	Interval360Min  KlineInterval = "360"
	Interval720Min  KlineInterval = "720"
	IntervalDaily   KlineInterval = "D"
	IntervalWeekly  KlineInterval = "W"
	IntervalMonthly KlineInterval = "M"
)

var validKlineIntervals = map[KlineInterval]KlineIntervalMeta{
	Interval1Min:    {APIValue: "1", TF: timeframe.Must(1, timeframe.Minute)},
	Interval3Min:    {APIValue: "3", TF: timeframe.Must(3, timeframe.Minute)},
	Interval5Min:    {APIValue: "5", TF: timeframe.Must(5, timeframe.Minute)},
	Interval15Min:   {APIValue: "15", TF: timeframe.Must(15, timeframe.Minute)},
	Interval30Min:   {APIValue: "30", TF: timeframe.Must(30, timeframe.Minute)},
	Interval60Min:   {APIValue: "60", TF: timeframe.Must(1, timeframe.Hour)},
	Interval120Min:  {APIValue: "120", TF: timeframe.Must(2, timeframe.Hour)},
	Interval240Min:  {APIValue: "240", TF: timeframe.Must(4, timeframe.Hour)},
	Interval360Min:  {APIValue: "360", TF: timeframe.Must(6, timeframe.Hour)},
	Interval720Min:  {APIValue: "720", TF: timeframe.Must(12, timeframe.Hour)},
	IntervalDaily:   {APIValue: "D", TF: timeframe.Must(1, timeframe.Day)},
	IntervalWeekly:  {APIValue: "W", TF: timeframe.Must(1, timeframe.Week)},
	IntervalMonthly: {APIValue: "M", TF: timeframe.Must(1, timeframe.Month)},
}

// IsValid checks if the KlineInterval is a valid predefined interval
func (k KlineInterval) IsValid() bool {
	_, ok := validKlineIntervals[k]
	return ok
}

// ParseKlineInterval parses a string into a valid KlineIntervalMeta
func ParseKlineInterval(s string) (KlineIntervalMeta, error) {
	meta, ok := validKlineIntervals[KlineInterval(s)]
	if !ok {
		return KlineIntervalMeta{}, fmt.Errorf("invalid KlineInterval: %s", s)
	}
	return meta, nil
}

// IntervalFor returns the Bybit interval that streams bars of tf.
func IntervalFor(tf timeframe.TF) (KlineInterval, bool) {
	for k, meta := range validKlineIntervals {
		if meta.TF == tf {
			return k, true
		}
	}
	return "", false
}
