package postgres_test

import (
	"context"
	"testing"
	"time"

	"tsengine/pkg/calendar"
	"tsengine/pkg/series"
	"tsengine/pkg/storage/postgres"
	"tsengine/pkg/timeframe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestBarCRUD
func TestBarCRUD(t *testing.T) {
	cfg := liveConfig(t, "tsengine_test")
	ctx := context.Background()

	client, err := postgres.InitializeAndMigrate(ctx, cfg, "dev", true)
	require.NoError(t, err)
	defer client.Close()

	tf := timeframe.Must(1, timeframe.Hour)
	start := time.Now().UTC().Truncate(time.Hour).Add(-10 * time.Hour)
	symbol := "CRUDUSDT"
	_, err = client.DeleteBarsBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	bar := series.Bar{Record: series.NewOHLC(start, 1, 3, 0.5, 2).WithVolume(10)}
	require.NoError(t, client.SaveBar(ctx, symbol, tf, bar, false))

	// same start overwrites
	bar.Close, bar.High = 4, 4
	require.NoError(t, client.SaveBar(ctx, symbol, tf, bar, true))

	got, err := client.GetBar(ctx, symbol, "1h", start)
	require.NoError(t, err)
	require.NotNil(t, got.Close)
	assert.Equal(t, 4.0, *got.Close)
	assert.True(t, got.Confirm)
	assert.Nil(t, got.Value)

	records := []*postgres.BarRecord{}
	for i := 1; i < 4; i++ {
		b := series.Bar{Record: series.NewOHLC(start.Add(time.Duration(i)*time.Hour), 1, 1, 1, float64(i))}
		records = append(records, postgres.ToBarRecord(symbol, tf, b, true, time.Now()))
	}
	n, err := client.UpsertBars(ctx, records)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	hist, err := client.History(ctx, symbol, tf, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, start, hist[0]["time"])

	deleted, err := client.DeleteBarsBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 4, deleted)
}

// go test -v --run TestBarRecordFields
func TestBarRecordFields(t *testing.T) {
	tf := timeframe.Must(5, timeframe.Minute)
	ts := time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC)

	ohlc := series.Bar{Record: series.NewOHLC(ts, 1, 2, 0.5, 1.5), Session: calendar.Pre, Tagged: true}
	r := postgres.ToBarRecord("AAPL", tf, ohlc, true, ts)
	assert.Equal(t, "5m", r.Timeframe)
	assert.Nil(t, r.Value)
	assert.Nil(t, r.Volume, "NaN volume is stored as NULL")
	require.NotNil(t, r.Session)

	fields := r.Fields()
	assert.NotContains(t, fields, "volume")
	assert.Equal(t, calendar.Pre, fields["session"])
	rec, err := series.ParseRecord(fields)
	require.NoError(t, err)
	assert.Equal(t, series.OHLC, rec.Kind)
	assert.Equal(t, ts, rec.Time)
	assert.Equal(t, 0.5, rec.Low)

	val := series.Bar{Record: series.NewValue(ts, 42).WithVolume(3)}
	r = postgres.ToBarRecord("SPREAD", tf, val, false, ts)
	assert.Nil(t, r.Close)
	assert.Nil(t, r.Session)
	rec, err = series.ParseRecord(r.Fields())
	require.NoError(t, err)
	assert.Equal(t, series.SingleValue, rec.Kind)
	assert.Equal(t, 42.0, rec.Value)
	assert.Equal(t, 3.0, rec.Volume)
}
