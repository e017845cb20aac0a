package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	chunksSummarized *prometheus.CounterVec
	prdFolds         *prometheus.CounterVec
	prdFoldLatency   prometheus.Histogram
	taskTransitions  *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	workerInflight   prometheus.Gauge
	ingestedChunks   *prometheus.CounterVec

	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge

	scrapeInterval time.Duration
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics once. It returns nil when disabled and
// every method on a nil *Metrics is a no-op.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		instance = newMetrics(reg)
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	f := func(c prometheus.Collector) { reg.MustRegister(c) }
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prd_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prd_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prd_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prd_llm_requests_total",
			Help: "LLM requests by model/role/status.",
		}, []string{"model", "role", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prd_llm_request_duration_seconds",
			Help:    "LLM request latency in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1200},
		}, []string{"model", "role", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prd_llm_tokens_total",
			Help: "LLM tokens by model/kind.",
		}, []string{"model", "kind"}),
		chunksSummarized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prd_chunks_summarized_total",
			Help: "Chunk summaries written, by outcome (model|fallback).",
		}, []string{"outcome"}),
		prdFolds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prd_folds_total",
			Help: "PRD folds by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		prdFoldLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prd_fold_duration_seconds",
			Help:    "PRD fold latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1200},
		}),
		taskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prd_task_transitions_total",
			Help: "Task status transitions.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "prd_task_queue_depth",
			Help: "Tasks by status.",
		}, []string{"status"}),
		workerInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prd_worker_inflight_tasks",
			Help: "Tasks currently being processed.",
		}),
		ingestedChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prd_ingested_chunks_total",
			Help: "Chunks written by source.",
		}, []string{"source"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prd_redis_up",
			Help: "1 when the event bus redis answers PING.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prd_redis_ping_seconds",
			Help: "Last redis PING latency.",
		}),
		scrapeInterval: 15 * time.Second,
	}
	f(m.apiRequests)
	f(m.apiLatency)
	f(m.apiInflight)
	f(m.llmRequests)
	f(m.llmLatency)
	f(m.llmTokens)
	f(m.chunksSummarized)
	f(m.prdFolds)
	f(m.prdFoldLatency)
	f(m.taskTransitions)
	f(m.queueDepth)
	f(m.workerInflight)
	f(m.ingestedChunks)
	f(m.redisUp)
	f(m.redisPing)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveLLMRequest(model, role, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	if role == "" {
		role = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.llmRequests.WithLabelValues(model, role, status).Inc()
	if dur > 0 {
		m.llmLatency.WithLabelValues(model, role, status).Observe(dur.Seconds())
	}
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) IncChunkSummarized(fallback bool) {
	if m == nil {
		return
	}
	outcome := "model"
	if fallback {
		outcome = "fallback"
	}
	m.chunksSummarized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFold(trigger string, fallback bool, dur time.Duration) {
	if m == nil {
		return
	}
	outcome := "model"
	if fallback {
		outcome = "fallback"
	}
	m.prdFolds.WithLabelValues(trigger, outcome).Inc()
	m.prdFoldLatency.Observe(dur.Seconds())
}

func (m *Metrics) IncTaskTransition(status string) {
	if m == nil {
		return
	}
	m.taskTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) AddIngestedChunks(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestedChunks.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) WorkerInflightInc() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) WorkerInflightDec() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.scrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func (m *Metrics) StartTaskQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.scrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.collectQueueDepth(ctx, db); err != nil && log != nil {
					log.Warn("metrics: task queue depth query failed", "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) collectQueueDepth(ctx context.Context, db *gorm.DB) error {
	for _, s := range append(append([]string{}, types.PendingStatuses...), types.TaskDone, types.TaskFailed) {
		m.queueDepth.WithLabelValues(s).Set(0)
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.Task{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		status := strings.TrimSpace(row.Status)
		if status == "" {
			status = "unknown"
		}
		m.queueDepth.WithLabelValues(status).Set(float64(row.Count))
	}
	return nil
}
