// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
	"github.com/AleutianAI/bayesbridge/services/bridge/checkpoint"
	"github.com/AleutianAI/bayesbridge/services/bridge/telemetry"
)

const (
	archivePrefix = "archive/"
	tracerName    = "bayesbridge.storage.badger"
)

// ErrArchiveNotFound indicates no archive is stored under the run ID.
var ErrArchiveNotFound = errors.New("archive not found")

// ArchiveStore keeps chain archives keyed by run ID.
//
// Values are checkpoint records (gzip + gob), the same encoding used for
// checkpoint files.
//
// Thread Safety: Safe for concurrent use.
type ArchiveStore struct {
	db     *DB
	logger *slog.Logger
}

// NewArchiveStore creates a store on an open database.
//
// Inputs:
//
//	db - The database. Must not be nil. The caller keeps ownership.
//	logger - Optional. Nil means slog.Default().
func NewArchiveStore(db *DB, logger *slog.Logger) (*ArchiveStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveStore{db: db, logger: logger.With(slog.String("component", "archive_store"))}, nil
}

func traceRun(id uuid.UUID) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("run_id", id.String()))
}

func archiveKey(id uuid.UUID) []byte {
	return []byte(archivePrefix + id.String())
}

// Put stores an archive, replacing any archive with the same run ID.
func (s *ArchiveStore) Put(ctx context.Context, a *chain.Archive) error {
	if a == nil {
		return checkpoint.ErrNilArchive
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "bridge.storage.Put", traceRun(a.RunID))
	defer span.End()

	payload, err := checkpoint.Marshal(a)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("encode archive %s: %w", a.RunID, err)
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(archiveKey(a.RunID), payload)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("put archive %s: %w", a.RunID, err)
	}

	telemetry.SetSpanOK(span)
	telemetry.LoggerWithTrace(ctx, s.logger).Debug("archive stored",
		slog.String("run_id", a.RunID.String()),
		slog.Int("n_samples", a.NSamples()),
		slog.Int("bytes", len(payload)),
	)
	return nil
}

// Get loads the archive of a run.
//
// Outputs:
//
//	*chain.Archive - The decoded archive.
//	error - ErrArchiveNotFound if no such run is stored.
func (s *ArchiveStore) Get(ctx context.Context, id uuid.UUID) (*chain.Archive, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "bridge.storage.Get", traceRun(id))
	defer span.End()

	var payload []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(id))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get archive %s: %w", id, err)
	}

	a, err := checkpoint.Unmarshal(payload)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("decode archive %s: %w", id, err)
	}
	telemetry.SetSpanOK(span)
	return a, nil
}

// List returns the stored run IDs, sorted.
func (s *ArchiveStore) List(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(archivePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			id, err := uuid.Parse(strings.TrimPrefix(key, archivePrefix))
			if err != nil {
				s.logger.Warn("skipping malformed archive key", slog.String("key", key))
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return ids, nil
}

// Delete removes the archive of a run.
//
// Outputs:
//
//	error - ErrArchiveNotFound if no such run is stored.
func (s *ArchiveStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(archiveKey(id)); err != nil {
			return err
		}
		return txn.Delete(archiveKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete archive %s: %w", id, err)
	}
	s.logger.Info("archive deleted", slog.String("run_id", id.String()))
	return nil
}
