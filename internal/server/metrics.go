package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/docchat-go/internal/session"
)

const (
	metricsNamespace = "docchat"

	// labelHandler partitions HTTP metrics by route pattern, never raw path.
	labelHandler = "handler"
	// unmatchedHandler labels requests no route accepted.
	unmatchedHandler = "unmatched"
)

// Ingest sources, used as the "source" label.
const (
	ingestSourcePath   = "path"
	ingestSourceUpload = "upload"
)

// serverMetrics are the collectors owned by one Server. Each Server registers
// its own set so tests can use a private registry.
type serverMetrics struct {
	askTotal     *prometheus.CounterVec   // mode, outcome
	askSeconds   *prometheus.HistogramVec // mode
	ingestTotal  *prometheus.CounterVec   // source, outcome
	ingestSecs   *prometheus.HistogramVec // source
	httpTotal    *prometheus.CounterVec   // method, handler, code
	httpDuration *prometheus.HistogramVec // method, handler
}

// newServerMetrics registers the server collectors with reg. activeSessions
// is sampled on every scrape.
func newServerMetrics(reg prometheus.Registerer, activeSessions func() int) *serverMetrics {
	f := promauto.With(reg)
	counter := func(subsystem, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: subsystem, Name: "requests_total", Help: help,
		}, labels)
	}
	histogram := func(subsystem, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: subsystem, Name: "duration_seconds", Help: help, Buckets: buckets,
		}, labels)
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of live sessions.",
	}, func() float64 { return float64(activeSessions()) })

	return &serverMetrics{
		askTotal: counter("ask", "Questions answered, by mode and outcome.", "mode", "outcome"),
		askSeconds: histogram("ask", "Time from receiving a question to answering it.",
			[]float64{0.5, 1, 2, 5, 10, 30, 60, 120}, "mode"),
		ingestTotal: counter("ingest", "Ingest requests, by source and outcome.", "source", "outcome"),
		ingestSecs: histogram("ingest", "Time to build a session index from a request.",
			prometheus.ExponentialBuckets(0.25, 2, 12), "source"),
		httpTotal: counter("http", "HTTP requests, by method, route pattern and status code.",
			"method", labelHandler, "code"),
		httpDuration: histogram("http", "HTTP request latency by route pattern.",
			prometheus.DefBuckets, "method", labelHandler),
	}
}

func (m *serverMetrics) observeAsk(mode session.Mode, outcome string, d time.Duration) {
	m.askTotal.WithLabelValues(string(mode), outcome).Inc()
	m.askSeconds.WithLabelValues(string(mode)).Observe(d.Seconds())
}

func (m *serverMetrics) observeIngest(source, outcome string, d time.Duration) {
	m.ingestTotal.WithLabelValues(source, outcome).Inc()
	m.ingestSecs.WithLabelValues(source).Observe(d.Seconds())
}

// middleware counts and times requests by route. The mux fills r.Pattern on
// the request it receives, so next must be the mux itself.
func (m *serverMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = unmatchedHandler
		}
		m.httpTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(began).Seconds())
	})
}
