package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	pushSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_sends_total",
			Help: "Push notifications handed to the provider, by outcome.",
		},
		[]string{"outcome"},
	)
	pushBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_multicast_batches_total",
			Help: "Multicast batches sent to the push provider.",
		},
	)
	pushTokensPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_tokens_pruned_total",
			Help: "Device tokens deleted after the provider reported them invalid.",
		},
	)
	pushLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "push_request_latency_seconds",
			Help:    "Push provider request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	emailSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_sends_total",
			Help: "Templated emails handed to the mail provider, by outcome.",
		},
		[]string{"outcome"},
	)
	fanoutJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_jobs_total",
			Help: "Fan-out outbox jobs processed, by terminal status.",
		},
		[]string{"status"},
	)
	fanoutJobLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_job_duration_seconds",
			Help:    "Fan-out job execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Sweep ticks, by sweep name and outcome.",
		},
		[]string{"sweep", "outcome"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		pushSends, pushBatches, pushTokensPruned, pushLatency,
		emailSends,
		fanoutJobs, fanoutJobLatency,
		sweepRuns,
		influxWriteFailures, asynqQueueDepth,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func AddPushSent(n int) {
	if n > 0 {
		pushSends.WithLabelValues("sent").Add(float64(n))
	}
}

func AddPushFailed(n int) {
	if n > 0 {
		pushSends.WithLabelValues("failed").Add(float64(n))
	}
}

func IncPushBatch() {
	pushBatches.Inc()
}

func AddPushTokensPruned(n int) {
	if n > 0 {
		pushTokensPruned.Add(float64(n))
	}
}

func ObservePushLatency(d time.Duration) {
	pushLatency.Observe(d.Seconds())
}

func IncEmailSent() {
	emailSends.WithLabelValues("sent").Inc()
}

func IncEmailFailed() {
	emailSends.WithLabelValues("failed").Inc()
}

func IncFanoutJob(status string) {
	fanoutJobs.WithLabelValues(status).Inc()
}

func ObserveFanoutJobDuration(d time.Duration) {
	fanoutJobLatency.Observe(d.Seconds())
}

func IncSweepRun(sweep string, outcome string) {
	sweepRuns.WithLabelValues(sweep, outcome).Inc()
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
