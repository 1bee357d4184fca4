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
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
	"github.com/AleutianAI/bayesbridge/services/bridge/checkpoint"
	"github.com/AleutianAI/bayesbridge/services/bridge/coefsampler"
	bstore "github.com/AleutianAI/bayesbridge/services/bridge/storage/badger"
)

type runFlags struct {
	data     string
	model    string
	chains   int
	out      string
	store    string
	burnin   int
	iter     int
	thin     int
	method   string
	exponent float64
	seed     uint64
	sparse   bool
}

func (a *app) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run new chains and checkpoint them",
		Example: `  bayesbridge run --data data.csv --model logit --iter 2000 --burnin 500
  bayesbridge run --config bb.yaml --chains 4 --out runs/fit.ckpt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.applyRunFlags(cmd, f)
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f.out, f.store)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.data, "data", "", "CSV file with a header row")
	fl.StringVar(&f.model, "model", "", "model: linear, logit or cox")
	fl.IntVar(&f.chains, "chains", 0, "number of independent chains")
	fl.StringVar(&f.out, "out", "bayesbridge.ckpt", "checkpoint path; chains get a .chainN suffix")
	fl.StringVar(&f.store, "store", "", "badger directory that also receives the archives")
	fl.IntVar(&f.burnin, "burnin", 0, "burn-in iterations")
	fl.IntVar(&f.iter, "iter", 0, "post burn-in iterations")
	fl.IntVar(&f.thin, "thin", 0, "keep every thin-th draw")
	fl.StringVar(&f.method, "method", "", "coefficient sampler: direct, cg, hmc or nuts")
	fl.Float64Var(&f.exponent, "exponent", 0, "bridge exponent in (0, 2)")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed; chain i uses seed+i")
	fl.BoolVar(&f.sparse, "sparse", false, "store predictors as a sparse matrix")
	return cmd
}

// applyRunFlags overrides config values with the flags the user set.
func (a *app) applyRunFlags(cmd *cobra.Command, f runFlags) {
	fl := cmd.Flags()
	c := &a.cfg
	if fl.Changed("data") {
		c.Data.Path = f.data
	}
	if fl.Changed("model") {
		c.Model.Name = f.model
	}
	if fl.Changed("chains") {
		c.Model.Chains = f.chains
	}
	if fl.Changed("sparse") {
		c.Data.Sparse = f.sparse
	}
	if fl.Changed("burnin") {
		c.Run.NBurnin = f.burnin
	}
	if fl.Changed("iter") {
		c.Run.NPostBurnin = f.iter
	}
	if fl.Changed("thin") {
		c.Run.Thin = f.thin
	}
	if fl.Changed("method") {
		c.Run.SamplingMethod = coefsampler.Method(f.method)
	}
	if fl.Changed("exponent") {
		c.Run.BridgeExponent = f.exponent
	}
	if fl.Changed("seed") {
		seed := f.seed
		c.Run.Seed = &seed
	}
}

func (a *app) run(ctx context.Context, stdout, stderr io.Writer, out, storePath string) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	ds, err := loadDataset(a.cfg.Data, a.cfg.Model.Name)
	if err != nil {
		return err
	}
	store, storeCloser, err := a.openStore(storePath)
	if err != nil {
		return err
	}
	defer storeCloser.Close()

	n := a.cfg.Model.Chains
	printer := newProgressPrinter(stderr, n)
	archives := make([]*chain.Archive, n)
	paths := make([]string, n)

	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			logger := a.logger.With(slog.Int("chain", i))
			m, err := ds.buildModel(a.cfg, logger)
			if err != nil {
				return err
			}
			s, err := chain.New(m, a.cfg.Prior,
				chain.WithLogger(logger),
				chain.WithMetrics(a.metrics),
				chain.WithProgress(printer.forChain(i)),
			)
			if err != nil {
				return err
			}

			rc := a.cfg.Run
			if rc.Seed != nil {
				seed := *rc.Seed + uint64(i)
				rc.Seed = &seed
			}
			arch, err := s.Run(ctx, rc, chain.InitialState{})
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			archives[i], paths[i] = arch, chainPath(out, i, n)
			return a.persist(ctx, paths[i], arch, store)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, arch := range archives {
		fmt.Fprintf(stdout, "chain %d  run %s  %d draws  %s  -> %s\n",
			i, arch.RunID, arch.NSamples(), arch.Runtime.Round(time.Millisecond), paths[i])
	}
	return nil
}

// persist writes the checkpoint file and, when a store is open, the store
// entry.
func (a *app) persist(ctx context.Context, path string, arch *chain.Archive, store *bstore.ArchiveStore) error {
	if _, err := checkpoint.Save(ctx, path, arch, a.logger); err != nil {
		return err
	}
	if store != nil {
		return store.Put(ctx, arch)
	}
	return nil
}

// chainPath returns out for a single chain and out with a .chainN suffix
// before the extension otherwise.
func chainPath(out string, i, n int) string {
	if n == 1 {
		return out
	}
	ext := filepath.Ext(out)
	return fmt.Sprintf("%s.chain%d%s", strings.TrimSuffix(out, ext), i, ext)
}
