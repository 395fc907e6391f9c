package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the standard Prometheus text-exposition handler,
// intended to be mounted at /metrics alongside internal/httpapi's routes.
func Handler() http.Handler {
	return promhttp.Handler()
}
