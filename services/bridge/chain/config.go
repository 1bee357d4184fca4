// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/bayesbridge/services/bridge/coefsampler"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
	"github.com/AleutianAI/bayesbridge/services/bridge/shrinkage"
)

// Parameter names accepted in RunConfig.ParamsToSave and used as keys of
// Archive.Samples.
const (
	ParamCoef        = "regress_coef"
	ParamLocalScale  = "local_scale"
	ParamGlobalScale = "global_scale"
	ParamLogp        = "logp"
	ParamObsPrec     = "obs_prec"

	// ParamAll selects every parameter the model defines.
	ParamAll = "all"
)

// ErrInvalidConfig wraps run configuration failures.
var ErrInvalidConfig = errors.New("invalid run configuration")

// runValidate validates RunConfig values.
var runValidate *validator.Validate

func init() {
	runValidate = validator.New()
}

// RunConfig configures a sampler run.
//
// # Validation
//
// Uses go-playground/validator:
//   - NBurnin, NPostBurnin, NInitOptimStep, NStatusUpdate: >= 0
//   - Thin: >= 1
//   - BridgeExponent: in (0, 2)
//   - SamplingMethod: direct, cg, hmc or nuts
//   - GlobalScaleUpdate: sample, optimize or none
//   - ParamsToSave: known parameter names or "all"
type RunConfig struct {
	NBurnin           int                `json:"n_burnin" yaml:"n_burnin" validate:"gte=0"`
	NPostBurnin       int                `json:"n_post_burnin" yaml:"n_post_burnin" validate:"gte=0"`
	Thin              int                `json:"thin" yaml:"thin" validate:"gte=1"`
	BridgeExponent    float64            `json:"bridge_exponent" yaml:"bridge_exponent" validate:"gt=0,lt=2"`
	SamplingMethod    coefsampler.Method `json:"sampling_method" yaml:"sampling_method" validate:"oneof=direct cg hmc nuts"`
	GlobalScaleUpdate shrinkage.Mode     `json:"global_scale_update" yaml:"global_scale_update" validate:"oneof=sample optimize none"`
	ParamsToSave      []string           `json:"params_to_save,omitempty" yaml:"params_to_save" validate:"omitempty,dive,oneof=regress_coef local_scale global_scale logp obs_prec all"`
	NInitOptimStep    int                `json:"n_init_optim_step" yaml:"n_init_optim_step" validate:"gte=0"`
	NStatusUpdate     int                `json:"n_status_update" yaml:"n_status_update" validate:"gte=0"`
	Seed              *uint64            `json:"seed,omitempty" yaml:"seed"`
}

// DefaultRunConfig returns a config with the usual settings: no draws yet,
// thin 1, α = 0.5, CG sampling, sampled global scale, ten warm-start steps.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Thin:              1,
		BridgeExponent:    0.5,
		SamplingMethod:    coefsampler.MethodCG,
		GlobalScaleUpdate: shrinkage.ModeSample,
		NInitOptimStep:    10,
	}
}

// Validate checks the config on its own.
func (c RunConfig) Validate() error {
	if err := runValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// NIter returns the total number of Gibbs iterations.
func (c RunConfig) NIter() int { return c.NBurnin + c.NPostBurnin }

// NSaved returns the number of stored draws: iterations past burn-in whose
// offset is a multiple of Thin. That is floor(NPostBurnin/Thin), not the
// ceiling, because the first stored iteration is NBurnin+Thin; the ceiling
// would leave a trailing slot that no iteration fills.
func (c RunConfig) NSaved() int { return c.NPostBurnin / c.Thin }

// saveSlot returns the archive slot of a 1-based iteration, or -1.
func (c RunConfig) saveSlot(iter int) int {
	offset := iter - c.NBurnin
	if offset <= 0 || offset%c.Thin != 0 {
		return -1
	}
	return offset/c.Thin - 1
}

// checkModel validates the config against a model.
func (c RunConfig) checkModel(m model.Model) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.SamplingMethod.Gaussian() {
		if _, ok := m.(model.GaussianModel); !ok {
			return fmt.Errorf("%w: method %q needs a Gaussian conditional, model %q has none",
				ErrInvalidConfig, c.SamplingMethod, m.Name())
		}
	}
	if slices.Contains(c.ParamsToSave, ParamObsPrec) {
		if _, ok := m.(model.PrecisionModel); !ok {
			return fmt.Errorf("%w: model %q has no observation precision", ErrInvalidConfig, m.Name())
		}
	}
	return nil
}

// resolveParams expands ParamsToSave for a model.
func (c RunConfig) resolveParams(m model.Model) []string {
	switch {
	case len(c.ParamsToSave) == 0:
		return []string{ParamCoef, ParamGlobalScale, ParamLogp}
	case slices.Contains(c.ParamsToSave, ParamAll):
		params := []string{ParamCoef, ParamLocalScale, ParamGlobalScale, ParamLogp}
		if _, ok := m.(model.PrecisionModel); ok {
			params = append(params, ParamObsPrec)
		}
		return params
	default:
		params := slices.Clone(c.ParamsToSave)
		slices.Sort(params)
		return slices.Compact(params)
	}
}
