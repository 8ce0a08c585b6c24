package postgres

import (
	"math"
	"time"

	"tsengine/pkg/calendar"
	"tsengine/pkg/series"
	"tsengine/pkg/timeframe"
)

// BarRecord is one archived bar. Price and counter columns are NULL where the
// series does not carry them.
type BarRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Symbol    string    `gorm:"type:text;not null;index:idx_bar_symbol;index:idx_symbol_timeframe_start,unique"`
	Timeframe string    `gorm:"type:varchar(10);not null;index:idx_symbol_timeframe_start,unique"`
	Start     time.Time `gorm:"not null;index:idx_symbol_timeframe_start,unique"`

	Open  *float64 `gorm:"type:numeric"`
	High  *float64 `gorm:"type:numeric"`
	Low   *float64 `gorm:"type:numeric"`
	Close *float64 `gorm:"type:numeric"`
	Value *float64 `gorm:"type:numeric"`

	Volume *float64 `gorm:"type:numeric"`
	Ticks  *float64 `gorm:"type:numeric"`
	VWAP   *float64 `gorm:"column:vwap;type:numeric"`

	Session *int8 `gorm:"type:smallint"`
	Confirm bool  `gorm:"not null;default:false"`

	Timestamp time.Time `gorm:"not null;index:idx_bar_timestamp"` // last update applied

	RecordedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the default table name for GORM.
func (BarRecord) TableName() string {
	return "bar_record"
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// ToBarRecord converts a bar of symbol's tf series into an archive row.
func ToBarRecord(symbol string, tf timeframe.TF, b series.Bar, confirm bool, updated time.Time) *BarRecord {
	r := &BarRecord{
		Symbol:    symbol,
		Timeframe: tf.String(),
		Start:     b.Time.UTC(),
		Volume:    nullable(b.Volume),
		Ticks:     nullable(b.Ticks),
		VWAP:      nullable(b.VWAP),
		Confirm:   confirm,
		Timestamp: updated.UTC(),
	}
	switch b.Kind {
	case series.OHLC:
		r.Open, r.High, r.Low, r.Close = nullable(b.Open), nullable(b.High), nullable(b.Low), nullable(b.Close)
	case series.SingleValue:
		r.Value = nullable(b.Value)
	}
	if b.Tagged {
		s := int8(b.Session)
		r.Session = &s
	}
	return r
}

// Fields renders the row as a field map understood by series.Store.Load.
// NULL columns are left out.
func (r BarRecord) Fields() map[string]any {
	out := map[string]any{"time": r.Start.UTC()}
	for key, v := range map[string]*float64{
		"open":   r.Open,
		"high":   r.High,
		"low":    r.Low,
		"close":  r.Close,
		"value":  r.Value,
		"volume": r.Volume,
		"ticks":  r.Ticks,
		"vwap":   r.VWAP,
	} {
		if v != nil {
			out[key] = *v
		}
	}
	if r.Session != nil {
		out["session"] = calendar.Session(*r.Session)
	}
	return out
}
