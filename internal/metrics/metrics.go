// Package metrics содержит prometheus-метрики синхронизации комментариев.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "commentsync"

// Metrics набор коллекторов движка синхронизации
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	events        *prometheus.CounterVec
	mountedViews  prometheus.Gauge
	cacheEntries  prometheus.Gauge
}

// New создает и регистрирует коллекторы в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Comment fetches by kind and result.",
		}, []string{"kind", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of comment fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Inbound push events by name and outcome.",
		}, []string{"event", "outcome"}),
		mountedViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mounted_views",
			Help:      "Post views currently mounted.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Posts held in the page cache.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.fetches, m.fetchDuration, m.events, m.mountedViews, m.cacheEntries)
	}
	return m
}

// ObserveFetch учитывает завершенный запрос комментариев
func (m *Metrics) ObserveFetch(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(kind, result).Inc()
	m.fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Event учитывает обработанное push-событие
func (m *Metrics) Event(event, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, outcome).Inc()
}

// ViewMounted изменяет число смонтированных представлений на delta
func (m *Metrics) ViewMounted(delta int) {
	if m == nil {
		return
	}
	m.mountedViews.Add(float64(delta))
}

// SetCacheEntries фиксирует текущий размер кэша
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}
