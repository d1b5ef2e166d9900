// Package metrics owns the Prometheus registry and serves it on a listener
// separate from the evidence API.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer holds the registry, the agent collectors, and the HTTP
// server exposing them under /metrics.
type MetricsServer struct {
	srv      *http.Server
	registry *prometheus.Registry

	// QuotesServed counts evidence quotes by quote type (identity or
	// integrity).
	QuotesServed *prometheus.CounterVec

	// KeyDeliveries counts delivered key shares by share kind (ukey or
	// vkey).
	KeyDeliveries *prometheus.CounterVec

	// RevocationsReceived counts revocation notices that passed signature
	// verification.
	RevocationsReceived prometheus.Counter

	// RevocationsRejected counts revocation notices dropped because of an
	// invalid signature or malformed payload.
	RevocationsRejected prometheus.Counter
}

// New creates a metrics server bound to listenAddr with all agent
// collectors registered under the given namespace.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	m := &MetricsServer{
		registry: registry,
		QuotesServed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_served_total",
			Help:      "Evidence quotes served, by quote type.",
		}, []string{"type"}),
		KeyDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_deliveries_total",
			Help:      "Key shares delivered by the tenant, by share kind.",
		}, []string{"kind"}),
		RevocationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_received_total",
			Help:      "Revocation notices accepted after signature verification.",
		}),
		RevocationsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_rejected_total",
			Help:      "Revocation notices dropped due to an invalid signature or payload.",
		}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m.srv = &http.Server{Addr: listenAddr, Handler: mux}

	return m, nil
}

// ListenAndServe serves /metrics until Shutdown is called or the listener
// fails.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
