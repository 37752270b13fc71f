package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/breathlink/breathlink/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// startPrometheusServer returns nil when metrics are disabled; a nil collector
// records nothing
func startPrometheusServer(c *cli.Context) (*metrics.Collector, error) {
	if !c.Bool("metrics") {
		return nil, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	collector, collectorErr := metrics.NewCollector(registry)
	if collectorErr != nil {
		return nil, collectorErr
	}

	metricsAddr := fmt.Sprintf("%s:%d", c.String("metrics-host"), c.Int("metrics-port"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logrus.Infof("Starting prometheus metrics server on %s", metricsAddr)
	go func() {
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 3 * time.Second,
		}

		if listenErr := server.ListenAndServe(); listenErr != nil {
			logrus.Fatalf("Failed to start prometheus metrics server: %v", listenErr)
		}
	}()
	return collector, nil
}
