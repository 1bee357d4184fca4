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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
	"github.com/AleutianAI/bayesbridge/services/bridge/checkpoint"
)

func (a *app) resumeCmd() *cobra.Command {
	var (
		in, out, data    string
		iter             int
		merge, clearPrev bool
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a checkpointed chain",
		Long: `resume rebuilds the model from the data and prior in the config, restores
the chain from a checkpoint and runs more iterations. The result is bitwise
identical to a single longer run.`,
		Example: "  bayesbridge resume --in fit.ckpt --data data.csv --iter 1000 --merge",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			prev, _, err := checkpoint.Load(ctx, in)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("data") {
				a.cfg.Data.Path = data
			}
			a.cfg.Model.Name = prev.Model
			a.cfg.Prior.Parametrization = prev.Parametrization

			ds, err := loadDataset(a.cfg.Data, prev.Model)
			if err != nil {
				return err
			}
			m, err := ds.buildModel(a.cfg, a.logger)
			if err != nil {
				return err
			}
			s, err := chain.New(m, a.cfg.Prior,
				chain.WithLogger(a.logger.With(slog.String("run_id", prev.RunID.String()))),
				chain.WithMetrics(a.metrics),
				chain.WithProgress(newProgressPrinter(cmd.ErrOrStderr(), 1).forChain(0)),
			)
			if err != nil {
				return err
			}

			next, err := s.Continue(ctx, prev, iter, chain.ContinueOptions{Merge: merge, Clear: clearPrev})
			if err != nil {
				return err
			}
			if out == "" {
				out = in
			}
			if _, err := checkpoint.Save(ctx, out, next, a.logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s  %d draws -> %s\n", next.RunID, next.NSamples(), out)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&in, "in", "", "checkpoint to resume")
	fl.StringVar(&out, "out", "", "output checkpoint (default: overwrite --in)")
	fl.StringVar(&data, "data", "", "CSV file the chain was run on")
	fl.IntVar(&iter, "iter", 0, "additional iterations")
	fl.BoolVar(&merge, "merge", false, "keep the previous draws before the new ones")
	fl.BoolVar(&clearPrev, "clear", false, "drop the previous draws from the input archive")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("iter")
	return cmd
}

func (a *app) mergeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "merge FIRST SECOND",
		Short: "Concatenate two checkpoints of the same chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			first, _, err := checkpoint.Load(ctx, args[0])
			if err != nil {
				return err
			}
			second, _, err := checkpoint.Load(ctx, args[1])
			if err != nil {
				return err
			}
			merged, err := chain.Merge(first, second)
			if err != nil {
				return err
			}
			if _, err := checkpoint.Save(ctx, out, merged, a.logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s  %d draws -> %s\n", merged.RunID, merged.NSamples(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output checkpoint")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
