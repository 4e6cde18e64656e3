// Package metrics exposes Prometheus counters for the ledger service and a
// small standalone metrics server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggledger_submissions_total",
		Help: "Encrypted entries accepted into batches.",
	})

	ValuationRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggledger_valuation_requests_total",
		Help: "Decryption requests registered with the oracle.",
	})

	ValuationsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggledger_valuations_completed_total",
		Help: "Decryption requests finalized with a verified proof.",
	})

	RejectedCallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggledger_rejected_callbacks_total",
		Help: "Oracle callbacks rejected at finalization.",
	})

	RequestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggledger_request_errors_total",
		Help: "HTTP requests rejected, by endpoint.",
	}, []string{"endpoint"})
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener,
// separate from the API server.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. The name is
// kept for operator-facing logs; collectors are registered globally.
func New(name, listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe starts serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
