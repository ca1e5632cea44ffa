// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the Pollen
// agent. Metrics are exposed on /metrics and cover the wellness
// validation pipeline, the shadow ledger, and creator activity.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pollen"

// AgentMetrics holds the agent's Prometheus metrics. Initialize once
// at startup via InitMetrics.
type AgentMetrics struct {
	// ValidationsTotal counts wellness validations by outcome.
	// Labels: result (valid, invalid, parse_error)
	ValidationsTotal *prometheus.CounterVec

	// ViolationsTotal counts detected violations by kind.
	// Labels: kind (infinite_scroll, dark_pattern, ...)
	ViolationsTotal *prometheus.CounterVec

	// CognitiveLoadScore observes per-validation load scores.
	CognitiveLoadScore prometheus.Histogram

	// HoneyAccrued counts Honey added to the shadow ledger.
	// Labels: activity_type
	HoneyAccrued *prometheus.CounterVec

	// GraduationsTotal counts level graduations.
	GraduationsTotal prometheus.Counter

	// CreationsTotal counts stored creations by content type.
	// Labels: content_type
	CreationsTotal *prometheus.CounterVec

	// ActiveWebsockets tracks open event stream connections.
	ActiveWebsockets prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *AgentMetrics

// InitMetrics registers all agent metrics with the default registry.
// Call once at startup.
func InitMetrics() *AgentMetrics {
	m := &AgentMetrics{
		ValidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "wellness",
			Name:      "validations_total",
			Help:      "Wellness validations by outcome.",
		}, []string{"result"}),
		ViolationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "wellness",
			Name:      "violations_total",
			Help:      "Detected anti-wellness violations by kind.",
		}, []string{"kind"}),
		CognitiveLoadScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "wellness",
			Name:      "cognitive_load_score",
			Help:      "Cognitive load scores of validated fragments.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		HoneyAccrued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "honey_accrued_total",
			Help:      "Honey recorded in the shadow ledger by activity type.",
		}, []string{"activity_type"}),
		GraduationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "graduations_total",
			Help:      "Level graduations triggered.",
		}),
		CreationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "creator",
			Name:      "creations_total",
			Help:      "Creations stored in the vault by content type.",
		}, []string{"content_type"}),
		ActiveWebsockets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "agent",
			Name:      "active_websockets",
			Help:      "Open event stream connections.",
		}),
	}
	DefaultMetrics = m
	return m
}

// RecordValidation updates the validation counters from one result.
func (m *AgentMetrics) RecordValidation(isValid bool, parseError bool, loadScore float64, violationKinds []string) {
	if m == nil {
		return
	}
	result := "valid"
	switch {
	case parseError:
		result = "parse_error"
	case !isValid:
		result = "invalid"
	}
	m.ValidationsTotal.WithLabelValues(result).Inc()
	m.CognitiveLoadScore.Observe(loadScore)
	for _, kind := range violationKinds {
		m.ViolationsTotal.WithLabelValues(kind).Inc()
	}
}

// RecordHoney adds a ledger accrual to the honey counter.
func (m *AgentMetrics) RecordHoney(activityType string, amount float64) {
	if m == nil {
		return
	}
	m.HoneyAccrued.WithLabelValues(activityType).Add(amount)
}

// RecordGraduation counts one completed graduation.
func (m *AgentMetrics) RecordGraduation() {
	if m == nil {
		return
	}
	m.GraduationsTotal.Inc()
}

// RecordCreation counts one stored creation.
func (m *AgentMetrics) RecordCreation(contentType string) {
	if m == nil {
		return
	}
	m.CreationsTotal.WithLabelValues(contentType).Inc()
}
