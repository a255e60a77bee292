package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	GeneratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generator_requests_total",
			Help: "Total number of generation calls by outcome",
		},
		[]string{"outcome"},
	)
	GeneratorRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generator_request_duration_seconds",
			Help:    "Generator call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	GeneratorPromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generator_prompt_tokens",
			Help:    "Token count of generation prompts",
			Buckets: []float64{64, 128, 256, 512, 1024, 2048},
		},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of generation jobs enqueued",
		},
		[]string{"trigger"},
	)
	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Number of jobs currently pending or running",
		},
	)
	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of generation jobs completed",
		},
	)
	JobsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of generation jobs failed",
		},
	)

	QuestionsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "questions_generated_total",
			Help: "Total number of questions persisted by workers",
		},
	)
	DuplicatesSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duplicates_skipped_total",
			Help: "Total number of generated questions dropped as content-hash duplicates",
		},
	)

	PushStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_streams",
			Help: "Number of live push channel streams",
		},
	)
	PushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_events_total",
			Help: "Total number of push events delivered by type",
		},
		[]string{"type"},
	)
)

// InitMetrics registers all Prometheus metrics. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(GeneratorRequestsTotal)
	prometheus.MustRegister(GeneratorRequestDuration)
	prometheus.MustRegister(GeneratorPromptTokens)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(QuestionsGeneratedTotal)
	prometheus.MustRegister(DuplicatesSkippedTotal)
	prometheus.MustRegister(PushStreams)
	prometheus.MustRegister(PushEventsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
