// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the chain instruments.
//
// Description:
//
//	Counters and histograms for sampler runs. All metrics use the
//	"bridge_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// IterationsTotal counts completed Gibbs iterations by model and method.
	IterationsTotal metric.Int64Counter

	// RecoverableEventsTotal counts clamps and other recoverable events by
	// kind.
	RecoverableEventsTotal metric.Int64Counter

	// RunDuration records run wall time in seconds.
	RunDuration metric.Float64Histogram

	// CoefSamplerIterations records solver iterations or leapfrog steps per
	// coefficient draw.
	CoefSamplerIterations metric.Int64Histogram
}

// NewMetrics registers the chain instruments with meter.
//
// Inputs:
//
//	meter - The OTel meter, e.g. otel.Meter("bayesbridge/chain").
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.IterationsTotal, err = meter.Int64Counter(
		"bridge_iterations_total",
		metric.WithDescription("Total Gibbs iterations"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	m.RecoverableEventsTotal, err = meter.Int64Counter(
		"bridge_recoverable_events_total",
		metric.WithDescription("Total recoverable numerical events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create recoverable_events_total: %w", err)
	}

	m.RunDuration, err = meter.Float64Histogram(
		"bridge_run_duration_seconds",
		metric.WithDescription("Sampler run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	m.CoefSamplerIterations, err = meter.Int64Histogram(
		"bridge_coef_sampler_iterations",
		metric.WithDescription("Solver iterations or leapfrog steps per coefficient draw"),
		metric.WithUnit("{iteration}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		return nil, fmt.Errorf("create coef_sampler_iterations: %w", err)
	}

	return m, nil
}
