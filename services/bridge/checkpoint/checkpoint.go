// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists chain archives to disk.
//
// A checkpoint is gzip(gob(record)) written atomically, plus a JSON
// sidecar at <path>.meta.json holding the format version, creation time,
// run ID, payload size and a sha256 of the compressed payload. gob keeps
// infinite prior scales intact, which JSON cannot.
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
)

// FormatVersion is the checkpoint record format version.
const FormatVersion = 1

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrCorrupted indicates the payload does not match its recorded hash
	// or cannot be decoded.
	ErrCorrupted = errors.New("checkpoint corrupted")

	// ErrVersionMismatch indicates a checkpoint written by an incompatible
	// format version.
	ErrVersionMismatch = errors.New("checkpoint format version mismatch")

	// ErrNilArchive indicates Save was called without an archive.
	ErrNilArchive = errors.New("archive must not be nil")
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_checkpoint_operations_total",
		Help: "Total checkpoint operations by type and status",
	}, []string{"operation", "status"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_checkpoint_duration_seconds",
		Help:    "Time to save or load a checkpoint",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"operation"})
)

var tracer = otel.Tracer("bayesbridge.checkpoint")

// -----------------------------------------------------------------------------
// Record
// -----------------------------------------------------------------------------

type record struct {
	Version int
	Archive *chain.Archive
}

// Metadata describes a checkpoint file.
//
// Thread Safety: Immutable after creation.
type Metadata struct {
	// FormatVersion is the record format used to write the payload.
	FormatVersion int `json:"format_version"`

	// CreatedAt is the write time in Unix milliseconds UTC.
	CreatedAt int64 `json:"created_at"`

	// RunID identifies the chain the archive belongs to.
	RunID string `json:"run_id"`

	// Size is the compressed payload size in bytes.
	Size int64 `json:"size"`

	// ContentHash is the hex sha256 of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// Age returns the time since the checkpoint was written.
func (m *Metadata) Age() time.Duration {
	return time.Since(time.UnixMilli(m.CreatedAt))
}

// MetadataPath returns the sidecar path for a checkpoint file.
func MetadataPath(path string) string {
	return path + ".meta.json"
}

// Marshal encodes an archive as a compressed record.
func Marshal(a *chain.Archive) ([]byte, error) {
	if a == nil {
		return nil, ErrNilArchive
	}
	var buf bytes.Buffer
	if err := encode(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a payload produced by Marshal.
func Unmarshal(data []byte) (*chain.Archive, error) {
	return decode(bytes.NewReader(data))
}

func encode(w io.Writer, a *chain.Archive) error {
	zw := gzip.NewWriter(w)
	if err := gob.NewEncoder(zw).Encode(record{Version: FormatVersion, Archive: a}); err != nil {
		zw.Close()
		return fmt.Errorf("encode archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

func decode(r io.Reader) (*chain.Archive, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	defer zr.Close()

	var rec record
	if err := gob.NewDecoder(zr).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCorrupted, err)
	}
	if rec.Version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, rec.Version, FormatVersion)
	}
	if rec.Archive == nil {
		return nil, fmt.Errorf("%w: empty record", ErrCorrupted)
	}
	if rec.Archive.Samples == nil {
		rec.Archive.Samples = map[string][][]float64{}
	}
	return rec.Archive, nil
}

// -----------------------------------------------------------------------------
// Files
// -----------------------------------------------------------------------------

// Save writes an archive to path.
//
// Description:
//
//	Encodes the archive into a temp file next to path, syncs it and
//	renames it into place, so a reader sees either the old checkpoint or
//	the new one. The metadata sidecar is written the same way afterwards.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	path - Destination file. Its directory is created if needed.
//	a - The archive. Must not be nil.
//	logger - Optional. Nil means slog.Default().
//
// Outputs:
//
//	*Metadata - The sidecar contents.
//	error - Non-nil if encoding or any file operation fails.
//
// Thread Safety: Concurrent saves to the same path race on the rename;
// the last one wins.
func Save(ctx context.Context, path string, a *chain.Archive, logger *slog.Logger) (_ *Metadata, err error) {
	if a == nil {
		return nil, ErrNilArchive
	}
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "bridge.checkpoint.Save",
		trace.WithAttributes(attribute.String("path", path), attribute.String("run_id", a.RunID.String())))
	defer span.End()
	defer func() { observe("save", start, err, span) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	payload, err := Marshal(a)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, payload); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(payload)
	meta := &Metadata{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UnixMilli(),
		RunID:         a.RunID.String(),
		Size:          int64(len(payload)),
		ContentHash:   hex.EncodeToString(sum[:]),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(MetadataPath(path), metaBytes); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("size", meta.Size))
	logger.Info("checkpoint saved",
		slog.String("path", path),
		slog.String("run_id", meta.RunID),
		slog.Int64("bytes", meta.Size),
		slog.Duration("duration", time.Since(start)),
	)
	return meta, nil
}

// Load reads a checkpoint written by Save.
//
// Description:
//
//	Reads the sidecar, verifies the payload size and hash against it, then
//	decodes the archive.
//
// Outputs:
//
//	*chain.Archive - The decoded archive.
//	*Metadata - The sidecar contents.
//	error - ErrCorrupted on a hash or decode failure, ErrVersionMismatch
//	for another format version, or a wrapped fs error (errors.Is
//	os.ErrNotExist) when either file is missing.
func Load(ctx context.Context, path string) (_ *chain.Archive, _ *Metadata, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "bridge.checkpoint.Load", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()
	defer func() { observe("load", start, err, span) }()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	meta, err := ReadMetadata(path)
	if err != nil {
		return nil, nil, err
	}
	if meta.FormatVersion != FormatVersion {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, meta.FormatVersion, FormatVersion)
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if int64(len(payload)) != meta.Size {
		return nil, nil, fmt.Errorf("%w: size %d, recorded %d", ErrCorrupted, len(payload), meta.Size)
	}
	sum := sha256.Sum256(payload)
	if got := hex.EncodeToString(sum[:]); got != meta.ContentHash {
		return nil, nil, fmt.Errorf("%w: content hash mismatch", ErrCorrupted)
	}

	a, err := Unmarshal(payload)
	if err != nil {
		return nil, nil, err
	}
	return a, meta, nil
}

// ReadMetadata reads the sidecar of a checkpoint.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(MetadataPath(path))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupted, err)
	}
	return &meta, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	cleanup = false
	return nil
}

func observe(op string, start time.Time, err error, span trace.Span) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		operationsTotal.WithLabelValues(op, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	operationsTotal.WithLabelValues(op, "success").Inc()
	span.SetStatus(codes.Ok, "")
}
