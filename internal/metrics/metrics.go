// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts analyses by outcome: detected, filtered, error,
	// skipped (single-flight gate).
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visiond",
		Name:      "analyses_total",
		Help:      "Analyses run, by outcome.",
	}, []string{"outcome"})

	// StageFailures counts best-effort stage failures that did not abort the
	// pipeline.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visiond",
		Name:      "stage_failures_total",
		Help:      "Non-fatal pipeline stage failures.",
	}, []string{"stage"})

	// InferenceLatency observes sidecar-reported inference time.
	InferenceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "visiond",
		Name:      "inference_latency_ms",
		Help:      "Sidecar inference latency in milliseconds.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	// EscalationsTotal counts vision-language escalation attempts.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visiond",
		Name:      "escalations_total",
		Help:      "Vision-language escalations, by result.",
	}, []string{"result"})
)
