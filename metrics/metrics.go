// Package metrics exposes Prometheus counters for the oracle bridge and a
// small metrics server serving them on a dedicated listen address.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	KeysCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_keys_created_total",
		Help: "Number of TEE signing keys registered.",
	})
	RequestsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_requests_created_total",
		Help: "Number of compute requests persisted.",
	})
	DispatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dispatch_failures_total",
		Help: "Number of dispatch operations that exhausted their retries.",
	})
	RequestsReconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_requests_reconciled_total",
		Help: "Number of request status transitions applied by the reconciler.",
	})
	FulfillmentsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_fulfillments_submitted_total",
		Help: "Number of fulfillment transactions submitted by the watcher.",
	})
)

// MetricsServer serves the Prometheus registry over HTTP.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. An empty addr disables the
// server; Start and Shutdown become no-ops.
func New(addr string) *MetricsServer {
	if addr == "" {
		return &MetricsServer{}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{srv: &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}}
}

// Start serves metrics until Shutdown. It returns http.ErrServerClosed after
// a clean shutdown, like net/http.
func (m *MetricsServer) Start() error {
	if m.srv == nil {
		return nil
	}
	err := m.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
