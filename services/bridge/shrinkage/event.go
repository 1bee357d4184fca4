// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shrinkage

import (
	"log/slog"
)

// EventKind classifies a recoverable numerical condition.
type EventKind string

const (
	// LocalScaleUnderflow means a local scale draw was exactly zero and was
	// replaced by LocalScaleFloor.
	LocalScaleUnderflow EventKind = "local_scale_underflow"

	// LocalScaleOverflow means a local scale draw was infinite and was
	// replaced by 2/global.
	LocalScaleOverflow EventKind = "local_scale_overflow"

	// GlobalScaleBelowBound means the global scale update fell below its
	// lower bound and was replaced by the bound.
	GlobalScaleBelowBound EventKind = "global_scale_below_bound"

	// MergeClearConflict means a resume asked to both merge with and clear
	// the previous archive; clearing was disabled.
	MergeClearConflict EventKind = "merge_clear_conflict"
)

// Event records a recoverable condition. Count is the number of affected
// entries and Value the substituted value.
type Event struct {
	Kind      EventKind `json:"kind"`
	Iteration int       `json:"iteration"`
	Count     int       `json:"count"`
	Value     float64   `json:"value"`
}

// LogValue implements slog.LogValuer.
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("event", string(e.Kind)),
		slog.Int("iteration", e.Iteration),
		slog.Int("count", e.Count),
		slog.Float64("value", e.Value),
	)
}

// Message returns a human-readable description of the event.
func (e Event) Message() string {
	switch e.Kind {
	case LocalScaleUnderflow:
		return "local scale parameter underflowed; replaced with a small number"
	case LocalScaleOverflow:
		return "local scale parameter overflowed; replaced with a large number"
	case GlobalScaleBelowBound:
		return "global scale update returned an unreasonably small value; replaced with its lower bound"
	case MergeClearConflict:
		return "previous archive cannot be cleared when merging; clearing disabled"
	default:
		return string(e.Kind)
	}
}
