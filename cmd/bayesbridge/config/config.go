// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the bayesbridge command-line configuration: a YAML
// file with data, model, run, prior, telemetry, storage and log sections.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
	"github.com/AleutianAI/bayesbridge/services/bridge/prior"
	"github.com/AleutianAI/bayesbridge/services/bridge/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the full CLI configuration.
type Config struct {
	Data      DataConfig       `yaml:"data"`
	Model     ModelConfig      `yaml:"model"`
	Run       chain.RunConfig  `yaml:"run" validate:"-"`
	Prior     prior.Prior      `yaml:"prior" validate:"-"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Storage   StorageConfig    `yaml:"storage"`
	Log       LogConfig        `yaml:"log"`
}

// DataConfig describes the CSV input. The file has a header row. Every
// column not named here is a predictor.
type DataConfig struct {
	// Path is the CSV file.
	Path string `yaml:"path"`

	// Outcome is the response column of the linear model, or the success
	// count column of the logistic model.
	Outcome string `yaml:"outcome"`

	// Trials is the optional trial count column of the logistic model.
	// Empty means binary outcomes.
	Trials string `yaml:"trials"`

	// Time and Event are the survival columns of the Cox model. Event is 1
	// for an observed event and 0 for a censored observation.
	Time  string `yaml:"time"`
	Event string `yaml:"event"`

	// Sparse stores predictors in CSR form, dropping zero entries.
	Sparse bool `yaml:"sparse"`
}

// ModelConfig selects the model and design options.
type ModelConfig struct {
	Name      string `yaml:"name" validate:"oneof=linear logit cox"`
	Intercept *bool  `yaml:"intercept"`
	Center    bool   `yaml:"center"`

	// Chains is the number of independent chains run in parallel.
	Chains int `yaml:"chains" validate:"gte=1,lte=64"`
}

// StorageConfig configures the optional badger archive store.
type StorageConfig struct {
	// Path is the store directory. Empty disables the store.
	Path       string        `yaml:"path"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`

	// File, when set, receives a JSON copy of every log line.
	File string `yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Data: DataConfig{
			Outcome: "y",
			Time:    "time",
			Event:   "event",
		},
		Model:     ModelConfig{Name: model.NameLinear, Chains: 1},
		Run:       chain.DefaultRunConfig(),
		Prior:     prior.Default(),
		Telemetry: telemetry.DefaultConfig(),
		Storage:   StorageConfig{SyncWrites: true, GCInterval: 5 * time.Minute},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("%w: run: %w", ErrInvalidConfig, err)
	}
	if err := c.Prior.Validate(); err != nil {
		return fmt.Errorf("%w: prior: %w", ErrInvalidConfig, err)
	}
	return nil
}
