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
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/bayesbridge/cmd/bayesbridge/config"
	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
	"github.com/AleutianAI/bayesbridge/services/bridge/checkpoint"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// summaryRow is the posterior summary of one scalar.
type summaryRow struct {
	name     string
	mean, sd float64
	shrunk   bool
}

// summarize computes posterior means and SDs of the coefficients and the
// global scale.
func summarize(a *chain.Archive) ([]summaryRow, error) {
	draws, ok := a.Samples[chain.ParamCoef]
	if !ok {
		return nil, fmt.Errorf("archive has no %s draws", chain.ParamCoef)
	}
	if len(draws) == 0 {
		return nil, fmt.Errorf("archive has no draws")
	}

	p := len(draws[0])
	col := make([]float64, len(draws))
	rows := make([]summaryRow, 0, p+1)
	for j := 0; j < p; j++ {
		for i, d := range draws {
			col[i] = d[j]
		}
		mean, sd := stat.MeanStdDev(col, nil)
		rows = append(rows, summaryRow{
			name:   "coef[" + strconv.Itoa(j) + "]",
			mean:   mean,
			sd:     sd,
			shrunk: j >= a.NUnshrunk,
		})
	}
	if g := a.Scalar(chain.ParamGlobalScale); len(g) > 0 {
		mean, sd := stat.MeanStdDev(g, nil)
		rows = append(rows, summaryRow{name: chain.ParamGlobalScale, mean: mean, sd: sd})
	}
	return rows, nil
}

func renderSummary(w io.Writer, a *chain.Archive, rows []summaryRow) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("parameter", "mean", "sd", "shrunk").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		shrunk := ""
		if r.shrunk {
			shrunk = "yes"
		}
		t.Row(r.name, strconv.FormatFloat(r.mean, 'g', 5, 64), strconv.FormatFloat(r.sd, 'g', 4, 64), shrunk)
	}

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s model, run %s", a.Model, a.RunID)))
	fmt.Fprintf(w, "%d draws (burn-in %d, thin %d), %d events, runtime %s\n",
		a.NSamples(), a.Config.NBurnin, a.Config.Thin, len(a.Events), a.Runtime)
	fmt.Fprintln(w, t.Render())
}

func (a *app) summaryCmd() *cobra.Command {
	var runID, storePath string
	cmd := &cobra.Command{
		Use:   "summary [CHECKPOINT]",
		Short: "Print posterior means and SDs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var arch *chain.Archive
			switch {
			case len(args) == 1:
				var err error
				if arch, _, err = checkpoint.Load(ctx, args[0]); err != nil {
					return err
				}
			case runID != "":
				id, err := uuid.Parse(runID)
				if err != nil {
					return fmt.Errorf("run id: %w", err)
				}
				store, closer, err := a.openStore(storePath)
				if err != nil {
					return err
				}
				defer closer.Close()
				if store == nil {
					return fmt.Errorf("--run-id needs --store or storage.path")
				}
				if arch, err = store.Get(ctx, id); err != nil {
					return err
				}
			default:
				return fmt.Errorf("give a checkpoint path or --run-id")
			}

			rows, err := summarize(arch)
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), arch, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "read the archive from the store instead of a file")
	cmd.Flags().StringVar(&storePath, "store", "", "badger store directory")
	return cmd
}

func (a *app) archivesCmd() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "Manage archives in the badger store",
	}
	cmd.PersistentFlags().StringVar(&storePath, "store", "", "badger store directory")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored run IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closer, err := a.openStore(storePath)
			if err != nil {
				return err
			}
			defer closer.Close()
			if store == nil {
				return fmt.Errorf("no store configured")
			}
			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a stored archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("run id: %w", err)
			}
			store, closer, err := a.openStore(storePath)
			if err != nil {
				return err
			}
			defer closer.Close()
			if store == nil {
				return fmt.Errorf("no store configured")
			}
			return store.Delete(cmd.Context(), id)
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init PATH",
		Short: "Write the default configuration to PATH unless it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, created, err := config.LoadOrCreate(args[0])
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s exists and is valid\n", args[0])
			}
			return nil
		},
	})
	return cmd
}
