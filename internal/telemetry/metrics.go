package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"}, []string{"method", "endpoint", "status"})
	HTTPLatency  = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets}, []string{"method", "endpoint"})

	TasksCreated     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_created_total", Help: "Tasks persisted"})
	TasksDeleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_deleted_total", Help: "Task delete requests served"})
	LocationsCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "locations_created_total", Help: "Locations inserted"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})

	EventsPublished     = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_events_published_total", Help: "Task events appended to the stream"})
	EventsPublishFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_events_publish_failed_total", Help: "Task events the stream rejected"})
	EventsDropped       = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_events_dropped_total", Help: "Task events dropped because the publish queue was full"})
	PublishQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "task_events_queue_depth", Help: "Events waiting in the local publish queue"})

	ConsumerProcessed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_events_processed_total", Help: "Stream entries handled and acknowledged"})
	ConsumerFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_events_failed_total", Help: "Stream entries left pending after a handler error"})
	ConsumerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_events_dead_letter_total", Help: "Stream entries moved to the dead-letter stream"})
	ConsumerMalformed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_events_malformed_total", Help: "Undecodable stream entries acknowledged and skipped"})
	ConsumerPending    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "task_events_pending", Help: "Entries delivered to the group but not yet acknowledged"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequests,
			HTTPLatency,
			TasksCreated,
			TasksDeleted,
			LocationsCreated,
			RateLimitRejects,
			EventsPublished,
			EventsPublishFailed,
			EventsDropped,
			PublishQueueDepth,
			ConsumerProcessed,
			ConsumerFailures,
			ConsumerDeadLetter,
			ConsumerMalformed,
			ConsumerPending,
		)
	})
	return promhttp.Handler()
}

// Middleware records request count and latency, labelled by chi route pattern
// so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
	})
}
