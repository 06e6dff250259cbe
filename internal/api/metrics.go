package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// streamRoute is excluded from the latency histogram; SSE requests last as
// long as the job does.
const streamRoute = "/v1/jobs/{id}/logs"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "golob_http_requests_total",
		Help: "HTTP requests served, by route pattern and status.",
	}, []string{"method", "route", "status"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "golob_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"method", "route"})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "golob_http_in_flight_requests",
		Help: "HTTP requests currently being served.",
	})

	logStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "golob_log_streams",
		Help: "Open job log event streams.",
	})
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency, httpInFlight, logStreams)
}

// metricsMiddleware counts requests by chi route pattern so that ids in the
// path do not create new series.
func metricsMiddleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(httpInFlight, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if route != streamRoute {
			httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	}))
}
