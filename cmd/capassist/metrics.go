package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandevgo/capassist/pkg/log"
)

// metricsServer exposes the registry on /metrics.
type metricsServer struct {
	server *http.Server
}

func newMetricsServer(addr string, reg *prometheus.Registry) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &metricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *metricsServer) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Str("addr", m.server.Addr).Msg("metrics endpoint listening")
	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *metricsServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
