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
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/bayesbridge/services/bridge/chain"
)

const progressInterval = 500 * time.Millisecond

// progressPrinter writes chain progress to a terminal or log stream.
// On a terminal a single chain rewrites one line; otherwise every printed
// update is its own line. Updates are throttled per chain, except the
// last one of each phase.
//
// Thread Safety: Safe for concurrent use by several chains.
type progressPrinter struct {
	mu        sync.Mutex
	w         io.Writer
	overwrite bool
}

func newProgressPrinter(w io.Writer, nChains int) *progressPrinter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressPrinter{
		w:         w,
		overwrite: tty && nChains == 1,
	}
}

// forChain returns the chain.WithProgress callback of chain id.
func (p *progressPrinter) forChain(id int) func(chain.Progress) {
	s := &rate.Sometimes{First: 1, Interval: progressInterval}
	return func(pr chain.Progress) {
		if pr.Iteration >= pr.Total {
			p.print(id, pr)
			return
		}
		s.Do(func() { p.print(id, pr) })
	}
}

func (p *progressPrinter) print(id int, pr chain.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pct := 100.0
	if pr.Total > 0 {
		pct = 100 * float64(pr.Iteration) / float64(pr.Total)
	}
	line := fmt.Sprintf("chain %d %-8s %6d/%-6d %5.1f%% %s",
		id, pr.Phase, pr.Iteration, pr.Total, pct, pr.Elapsed.Round(time.Millisecond))
	if p.overwrite {
		end := ""
		if pr.Iteration >= pr.Total {
			end = "\n"
		}
		fmt.Fprintf(p.w, "\r%s%s", line, end)
		return
	}
	fmt.Fprintln(p.w, line)
}
