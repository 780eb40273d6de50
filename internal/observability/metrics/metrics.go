// Package metrics provides Prometheus instrumentation for verify-contracts.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enabled     bool
	serviceName string
	register    sync.Once

	// Engine metrics
	attemptsTotal      *prometheus.CounterVec
	resultsTotal       *prometheus.CounterVec
	librariesPruned    *prometheus.CounterVec
	callDuration       *prometheus.HistogramVec
	manifestSkipsTotal prometheus.Counter
)

// Init initializes the metrics system. Collectors are registered with the
// default registry the first time metrics are enabled.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}
	register.Do(registerCollectors)
}

func registerCollectors() {
	// Verifier call counter
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_attempts_total",
			Help: "Total number of verifier calls by classification",
		},
		[]string{"kind"},
	)

	// Terminal outcome counter
	resultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_results_total",
			Help: "Total number of contracts by terminal verification outcome",
		},
		[]string{"outcome"},
	)

	// Library pruning counter
	librariesPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_libraries_pruned_total",
			Help: "Total number of libraries removed from submissions",
		},
		[]string{"rule"},
	)

	// Verifier call latency
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_call_duration_seconds",
			Help:    "Verifier call latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	manifestSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifest_records_skipped_total",
			Help: "Total number of deployment records skipped by the manifest loader",
		},
	)
}

// WriteTextfile writes the current metrics in the node exporter textfile format.
func WriteTextfile(path string) error {
	if !enabled || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
