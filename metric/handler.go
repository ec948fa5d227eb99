package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the scrape handler for the registry
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(
		r.prom,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
}

// RegisterHTTPHandlers mounts the scrape handler under prefix + "/metrics"
func (r *MetricsRegistry) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.Handle(prefix+"/metrics", r.Handler())
}
