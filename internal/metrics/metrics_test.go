package metrics

import (
	"testing"
	"time"

	"tsengine/pkg/calendar"
	"tsengine/pkg/series"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ calendar.Recorder = (*Collector)(nil)
	_ series.Recorder   = (*Collector)(nil)
)

// go test -v --run TestCollectorWiring
func TestCollectorWiring(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	cal, err := calendar.NewCache(calendar.Options{Recorder: m})
	require.NoError(t, err)
	s := series.NewStore(cal, series.Options{Primary: true, Recorder: m})

	start := time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC)
	rows := make([]map[string]any, 0, 7)
	for i := 0; i < 7; i++ {
		rows = append(rows, map[string]any{"time": start.Add(time.Duration(i) * time.Hour), "close": 1.0})
	}
	_, err = s.Load(rows, "NYSE")
	require.NoError(t, err)

	_, err = s.Apply(series.NewValue(start.Add(6*time.Hour+time.Minute), 2), false)
	require.NoError(t, err)
	_, err = s.Apply(series.NewValue(start, 2), false)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.barsApplied.WithLabelValues(series.OutcomeMutate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.barsApplied.WithLabelValues(series.OutcomeStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsRegenerations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calendarRefs.WithLabelValues("NYSE")))
	assert.Greater(t, testutil.ToFloat64(m.scheduleDays.WithLabelValues("NYSE")), 0.0)

	s.Clear()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.calendarRefs.WithLabelValues("NYSE")))

	m.StreamMessage("kline")
	m.BarsPersisted(3)
	m.HistoryLoaded("rest")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.barsPersisted))
	// outcome{mutate,stale} + one series for each remaining metric
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}
