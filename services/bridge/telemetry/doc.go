// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for sampler
// runs.
//
// Init installs global tracer and meter providers. Packages create spans
// with StartSpan and record chain metrics through the Metrics instruments
// created by NewMetrics. Logs emitted inside a span carry its identifiers
// when the logger is derived with LoggerWithTrace.
//
// Exporters:
//
//	traces:  "otlp" (gRPC), "stdout", "none"
//	metrics: "prometheus" (served by MetricsHandler), "stdout", "none"
package telemetry

import "errors"

var (
	// ErrNilContext is returned when a nil context is passed to Init.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")
)
