package series

import (
	"time"

	"tsengine/pkg/calendar"
)

var epoch = time.Unix(0, 0).UTC()

// BarState is a read-only view of the most recent bar. It is overwritten on
// every update and keeps no history.
type BarState struct {
	Index     int
	Time      time.Time // open of the bar
	CloseTime time.Time // predicted open of the following bar
	Timestamp time.Time // time carried by the last applied update

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Value  float64
	Volume float64
	Ticks  float64
	VWAP   float64

	Session       calendar.Session
	IsNew         bool
	IsExt         bool
	IsOHLC        bool
	IsSingleValue bool
}

// DefaultBarState is the state reported before any data is loaded.
func DefaultBarState() BarState {
	return BarState{
		Index:     -1,
		Time:      epoch,
		CloseTime: epoch,
		Timestamp: epoch,
		Open:      nan,
		High:      nan,
		Low:       nan,
		Close:     nan,
		Value:     nan,
		Volume:    nan,
		Ticks:     nan,
		VWAP:      nan,
		Session:   calendar.Closed,
	}
}

func newBarState(index int, b Bar, next, updated time.Time, isNew bool) BarState {
	return BarState{
		Index:         index,
		Time:          b.Time,
		CloseTime:     next,
		Timestamp:     updated,
		Open:          b.Open,
		High:          b.High,
		Low:           b.Low,
		Close:         b.Close,
		Value:         b.Value,
		Volume:        b.Volume,
		Ticks:         b.Ticks,
		VWAP:          b.VWAP,
		Session:       b.Session,
		IsNew:         isNew,
		IsExt:         b.Tagged && b.Session.Extended(),
		IsOHLC:        b.Kind == OHLC,
		IsSingleValue: b.Kind == SingleValue,
	}
}
