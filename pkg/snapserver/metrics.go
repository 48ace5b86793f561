package snapserver

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsController is the query server's instrumentation, scaled down
// from the teacher's stoserver/metrics.go: this domain has no volumes or
// scheduled jobs to report on, only HTTP request counts, so the
// promconstmetrics apparatus the teacher uses for gauge-at-interval
// readings has nothing to attach to here.
type metricsController struct {
	registry     *prometheus.Registry
	httpRequests *prometheus.CounterVec
}

func newMetricsController() *metricsController {
	reg := prometheus.NewRegistry()

	m := &metricsController{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshotd_http_requests_total",
			Help: "HTTP server's handled requests",
		}, []string{"code", "method"}),
	}

	reg.MustRegister(m.httpRequests)

	return m
}

func (m *metricsController) MetricsHTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WrapHTTPServer instruments the handler the same way the teacher's
// WrapHTTPServer does: httpsnoop.CaptureMetrics observes the status code
// without the handler needing to cooperate.
func (m *metricsController) WrapHTTPServer(actual http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := httpsnoop.CaptureMetrics(actual, w, r)

		m.httpRequests.With(prometheus.Labels{
			"code":   strconv.Itoa(stats.Code),
			"method": r.Method,
		}).Inc()
	})
}
