package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ItemsFetched        int64
	Posted              int64
	Duplicates          int64
	Errors              int64
	RateLimited         int64
	ImagesAttached      int64
	TranslationFailures int64
	Cycles              int64

	// Timings
	LastCycleTime    time.Duration
	AverageCycleTime time.Duration
	TotalCycleTime   time.Duration

	// Status
	LastRunTime   time.Time
	LastPostTime  time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool

	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	fetched     prometheus.Counter
	images      prometheus.Counter
	translation prometheus.Counter
	cycleTime   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		IsHealthy: true,
		registry:  prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinrelay",
			Name:      "publish_outcomes_total",
			Help:      "Publish attempts by outcome.",
		}, []string{"outcome"}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinrelay",
			Name:      "items_fetched_total",
			Help:      "Candidate items produced by feed polls.",
		}),
		images: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinrelay",
			Name:      "images_attached_total",
			Help:      "Posts published with an attached image.",
		}),
		translation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinrelay",
			Name:      "translation_failures_total",
			Help:      "Titles that fell back to the untranslated text.",
		}),
		cycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coinrelay",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one poll-and-publish cycle, sleeps excluded.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
	}

	m.registry.MustRegister(
		m.outcomes, m.fetched, m.images, m.translation, m.cycleTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) AddItemsFetched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsFetched += int64(n)
	m.fetched.Add(float64(n))
}

// RecordOutcome counts one publish attempt. outcome is the publisher's
// outcome name.
func (m *Metrics) RecordOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch outcome {
	case "posted":
		m.Posted++
		m.LastPostTime = time.Now()
	case "skipped_duplicate":
		m.Duplicates++
	case "rate_limited":
		m.RateLimited++
	default:
		m.Errors++
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementImagesAttached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ImagesAttached++
	m.images.Inc()
}

func (m *Metrics) IncrementTranslationFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranslationFailures++
	m.translation.Inc()
}

func (m *Metrics) RecordCycleTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastCycleTime = duration
	m.TotalCycleTime += duration
	m.Cycles++
	m.AverageCycleTime = m.TotalCycleTime / time.Duration(m.Cycles)
	m.cycleTime.Observe(duration.Seconds())
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"items_fetched":         m.ItemsFetched,
		"posted":                m.Posted,
		"duplicates":            m.Duplicates,
		"errors":                m.Errors,
		"rate_limited":          m.RateLimited,
		"images_attached":       m.ImagesAttached,
		"translation_failures":  m.TranslationFailures,
		"cycles":                m.Cycles,
		"last_cycle_time_ms":    m.LastCycleTime.Milliseconds(),
		"average_cycle_time_ms": m.AverageCycleTime.Milliseconds(),
		"last_run_time":         formatTime(m.LastRunTime),
		"last_post_time":        formatTime(m.LastPostTime),
		"last_error_time":       formatTime(m.LastErrorTime),
		"last_error":            m.LastError,
		"is_healthy":            m.IsHealthy,
	}
}

// Handler serves the Prometheus exposition for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
