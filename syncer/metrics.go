package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics exports the synchronizer's progress to Prometheus. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	tipHeight      prometheus.Gauge
	storedPeriods  prometheus.Gauge
	syncing        prometheus.Gauge
	cycles         *prometheus.CounterVec
	headersFetched prometheus.Counter
	cycleDuration  prometheus.Histogram
}

// NewMetrics creates the synchronizer's collectors and registers them with
// reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "diffd_tip_height",
			Help: "Last tip height reported by the remote chain.",
		}),
		storedPeriods: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "diffd_stored_periods",
			Help: "Number of difficulty period headers stored.",
		}),
		syncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "diffd_syncing",
			Help: "Is a sync cycle running?",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diffd_sync_cycles_total",
			Help: "Sync cycles run, by result.",
		}, []string{"result"}),
		headersFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diffd_headers_fetched_total",
			Help: "Period headers fetched and stored.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "diffd_sync_cycle_duration_seconds",
			Help:    "Duration of sync cycles.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
	}

	collectors := []prometheus.Collector{
		m.tipHeight, m.storedPeriods, m.syncing, m.cycles,
		m.headersFetched, m.cycleDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// Expose both results from the start.
	m.cycles.WithLabelValues(resultSuccess)
	m.cycles.WithLabelValues(resultFailure)

	return m, nil
}

func (m *Metrics) setSyncing(syncing bool) {
	if m == nil {
		return
	}

	if syncing {
		m.syncing.Set(1)
	} else {
		m.syncing.Set(0)
	}
}

func (m *Metrics) setTipHeight(height uint32) {
	if m == nil {
		return
	}

	m.tipHeight.Set(float64(height))
}

func (m *Metrics) headerStored(periods int) {
	if m == nil {
		return
	}

	m.headersFetched.Inc()
	m.storedPeriods.Set(float64(periods))
}

func (m *Metrics) cycleDone(err error, seconds float64) {
	if m == nil {
		return
	}

	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(seconds)
}
