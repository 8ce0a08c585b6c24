package postgres

import (
	"context"
	"fmt"
	"time"

	"tsengine/pkg/series"
	"tsengine/pkg/timeframe"

	"gorm.io/gorm/clause"
)

var barConflict = clause.OnConflict{
	Columns: []clause.Column{
		{Name: "symbol"},
		{Name: "timeframe"},
		{Name: "start"},
	},
	DoUpdates: clause.AssignmentColumns([]string{
		"open", "high", "low", "close", "value",
		"volume", "ticks", "vwap", "session", "confirm",
		"timestamp", "updated_at",
	}),
}

// UpsertBar inserts the bar or overwrites the stored row for the same
// symbol, timeframe and start.
func (p *PostgresClient) UpsertBar(ctx context.Context, record *BarRecord) error {
	return p.DB.WithContext(ctx).Clauses(barConflict).Create(record).Error
}

// UpsertBars writes records in batches and returns the rows affected.
func (p *PostgresClient) UpsertBars(ctx context.Context, records []*BarRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx := p.DB.WithContext(ctx).Clauses(barConflict).CreateInBatches(records, 500)
	return tx.RowsAffected, tx.Error
}

func (p *PostgresClient) GetBar(ctx context.Context, symbol, tf string, start time.Time) (*BarRecord, error) {
	var bar BarRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND start = ?", symbol, tf, start).
		First(&bar).Error
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

// LoadBars returns the rows with from <= start <= to, oldest first.
func (p *PostgresClient) LoadBars(ctx context.Context, symbol, tf string, from, to time.Time) ([]BarRecord, error) {
	var bars []BarRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND start BETWEEN ? AND ?", symbol, tf, from, to).
		Order("start ASC").
		Find(&bars).Error
	return bars, err
}

func (p *PostgresClient) DeleteBarsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("start < ?", before).
		Delete(&BarRecord{})
	return tx.RowsAffected, tx.Error
}

// SaveBar archives one bar of a live series.
func (p *PostgresClient) SaveBar(ctx context.Context, symbol string, tf timeframe.TF, bar series.Bar, confirm bool) error {
	if err := p.UpsertBar(ctx, ToBarRecord(symbol, tf, bar, confirm, time.Now())); err != nil {
		return fmt.Errorf("save bar %s %s %s: %w", symbol, tf, bar.Time.Format(time.RFC3339), err)
	}
	return nil
}

// History loads archived bars as field maps ready for series.Store.Load.
func (p *PostgresClient) History(ctx context.Context, symbol string, tf timeframe.TF, from, to time.Time) ([]map[string]any, error) {
	bars, err := p.LoadBars(ctx, symbol, tf.String(), from, to)
	if err != nil {
		return nil, fmt.Errorf("load history %s %s: %w", symbol, tf, err)
	}
	out := make([]map[string]any, len(bars))
	for i, b := range bars {
		out[i] = b.Fields()
	}
	return out, nil
}
