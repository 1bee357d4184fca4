// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/bayesbridge/cmd/bayesbridge/config"
	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
	"github.com/AleutianAI/bayesbridge/services/bridge/design"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
)

var errDataFormat = errors.New("invalid data file")

// dataset is a parsed CSV: the outcome plus predictors in row-major order.
type dataset struct {
	outcome    model.Outcome
	predictors []string
	n          int
	x          []float64
}

// readDataset parses a CSV with a header row. Columns named by cfg are
// the outcome for modelName; every other column is a predictor.
func readDataset(r io.Reader, cfg config.DataConfig, modelName string) (*dataset, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDataFormat, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: need a header and at least one row", errDataFormat)
	}
	header, rows := records[0], records[1:]

	var outcomeCols []string
	switch modelName {
	case model.NameLinear:
		outcomeCols = []string{cfg.Outcome}
	case model.NameLogistic:
		outcomeCols = []string{cfg.Outcome}
		if cfg.Trials != "" {
			outcomeCols = append(outcomeCols, cfg.Trials)
		}
	case model.NameCox:
		outcomeCols = []string{cfg.Time, cfg.Event}
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownModel, modelName)
	}

	index := make(map[string]int, len(outcomeCols))
	for _, name := range outcomeCols {
		i := slices.Index(header, name)
		if i < 0 {
			return nil, fmt.Errorf("%w: column %q not found", errDataFormat, name)
		}
		index[name] = i
	}

	ds := &dataset{n: len(rows)}
	var predCols []int
	for j, name := range header {
		if !slices.Contains(outcomeCols, name) {
			predCols = append(predCols, j)
			ds.predictors = append(ds.predictors, name)
		}
	}
	if len(predCols) == 0 {
		return nil, fmt.Errorf("%w: no predictor columns", errDataFormat)
	}

	column := func(name string) ([]float64, error) {
		out := make([]float64, len(rows))
		for i, row := range rows {
			v, err := strconv.ParseFloat(row[index[name]], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %q: %v", errDataFormat, i+2, name, err)
			}
			out[i] = v
		}
		return out, nil
	}

	switch modelName {
	case model.NameLinear:
		if ds.outcome.Y, err = column(cfg.Outcome); err != nil {
			return nil, err
		}
	case model.NameLogistic:
		if ds.outcome.NSuccess, err = column(cfg.Outcome); err != nil {
			return nil, err
		}
		if cfg.Trials != "" {
			trials, err := column(cfg.Trials)
			if err != nil {
				return nil, err
			}
			ds.outcome.NTrial = make([]int, len(trials))
			for i, v := range trials {
				ds.outcome.NTrial[i] = int(v)
			}
		}
	case model.NameCox:
		if ds.outcome.EventTime, err = column(cfg.Time); err != nil {
			return nil, err
		}
		event, err := column(cfg.Event)
		if err != nil {
			return nil, err
		}
		ds.outcome.Censored = make([]bool, len(event))
		for i, v := range event {
			ds.outcome.Censored[i] = v == 0
		}
	}

	ds.x = make([]float64, 0, len(rows)*len(predCols))
	for i, row := range rows {
		for _, j := range predCols {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %q: %v", errDataFormat, i+2, header[j], err)
			}
			ds.x = append(ds.x, v)
		}
	}
	return ds, nil
}

func loadDataset(cfg config.DataConfig, modelName string) (*dataset, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: no data path", errDataFormat)
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open data: %w", err)
	}
	defer f.Close()
	return readDataset(f, cfg, modelName)
}

// buildModel creates a fresh model on the dataset. Each chain gets its own
// so the design's mat-vec counter is not shared.
func (ds *dataset) buildModel(cfg config.Config, logger *slog.Logger) (model.Model, error) {
	opts := chain.BuildOptions{Intercept: cfg.Model.Intercept, Center: cfg.Model.Center}
	p := len(ds.predictors)
	if !cfg.Data.Sparse {
		x := mat.NewDense(ds.n, p, slices.Clone(ds.x))
		return chain.BuildModel(cfg.Model.Name, ds.outcome, x, opts, logger)
	}

	var entries []design.Entry
	for i := 0; i < ds.n; i++ {
		for j, v := range ds.x[i*p : (i+1)*p] {
			if v != 0 {
				entries = append(entries, design.Entry{Row: i, Col: j, Value: v})
			}
		}
	}
	return chain.BuildSparseModel(cfg.Model.Name, ds.outcome, ds.n, p, entries, opts, logger)
}
