package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "tsengine"

// Collector records engine and collector events. It satisfies both
// calendar.Recorder and series.Recorder.
type Collector struct {
	barsApplied      *prometheus.CounterVec
	wsRegenerations  prometheus.Counter
	scheduleDays     *prometheus.CounterVec
	calendarRefs     *prometheus.GaugeVec
	streamMessages   *prometheus.CounterVec
	barsPersisted    prometheus.Counter
	historyLoadTotal *prometheus.CounterVec
}

// New registers the collector's metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		barsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_applied_total",
			Help:      "Updates applied to bar stores by outcome",
		}, []string{"outcome"}),
		wsRegenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whitespace_regenerations_total",
			Help:      "Full whitespace window regenerations",
		}),
		scheduleDays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_schedule_days_added_total",
			Help:      "Trading days appended to cached schedules",
		}, []string{"token"}),
		calendarRefs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calendar_refs",
			Help:      "Live references held on each cached calendar",
		}, []string{"token"}),
		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Websocket messages handled by kind",
		}, []string{"kind"}),
		barsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_persisted_total",
			Help:      "Confirmed bars written to the archive",
		}),
		historyLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_loads_total",
			Help:      "Initial history loads by source",
		}, []string{"source"}),
	}
	reg.MustRegister(
		c.barsApplied,
		c.wsRegenerations,
		c.scheduleDays,
		c.calendarRefs,
		c.streamMessages,
		c.barsPersisted,
		c.historyLoadTotal,
	)
	return c
}

func (c *Collector) BarApplied(outcome string) {
	c.barsApplied.WithLabelValues(outcome).Inc()
}

func (c *Collector) WhitespaceRegenerated() {
	c.wsRegenerations.Inc()
}

func (c *Collector) ScheduleExtended(token string, days int) {
	c.scheduleDays.WithLabelValues(token).Add(float64(days))
}

func (c *Collector) CalendarRefs(token string, refs int64) {
	c.calendarRefs.WithLabelValues(token).Set(float64(refs))
}

func (c *Collector) StreamMessage(kind string) {
	c.streamMessages.WithLabelValues(kind).Inc()
}

func (c *Collector) BarsPersisted(n int) {
	c.barsPersisted.Add(float64(n))
}

func (c *Collector) HistoryLoaded(source string) {
	c.historyLoadTotal.WithLabelValues(source).Inc()
}

// Serve exposes g on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
