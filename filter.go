// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Filter returns the rows of src that match spec, in row id order.
//
// The length range, and name groups made of ASCII terms, are evaluated
// by the store; everything else is evaluated here. Progress is
// reported about every 1% of the candidate rows. If ctx is cancelled
// Filter returns ErrCancelled and no rows.
func Filter(ctx context.Context, src *Store, spec FilterSpec, progress Progress) ([]Row, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	t0 := time.Now()
	rows, err := filterQuery(ctx, src, spec.compile(true), scanQuery{}, orNop(progress))
	if err != nil {
		return nil, err
	}
	log.Infof("filter: %d matches in %v", len(rows), time.Since(t0))
	return rows, nil
}

// filterQuery scans the rows selected by base plus m's pushed-down
// conditions, and returns the ones m matches.
func filterQuery(ctx context.Context, src *Store, m *matcher, base scanQuery, progress Progress) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	q := m.query
	q.idRange, q.minID, q.maxID = base.idRange, base.minID, base.maxID
	total, err := src.count(ctx, q)
	if err != nil {
		return nil, checkCancelled(ctx, err)
	}
	if total == 0 {
		progress.Percent(100)
		return nil, nil
	}
	cur, err := src.scan(ctx, q)
	if err != nil {
		return nil, checkCancelled(ctx, err)
	}
	defer cur.Close()
	var out []Row
	tk := newTicker(progress, total)
	for cur.Next() {
		if tk.Tick() && ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		if row := cur.Row(); m.match(row.Record) {
			out = append(out, row)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, checkCancelled(ctx, err)
	}
	tk.Done()
	return out, nil
}

// checkCancelled returns ErrCancelled instead of err if ctx has been
// cancelled.
func checkCancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	return err
}

// FilterOutcome is delivered when a background filter ends. On
// failure or cancellation Rows is nil and Err is set. A lenient
// parallel filter may deliver rows together with a *PartitionError.
type FilterOutcome struct {
	Rows []Row
	Err  error
}

// StartFilter runs Filter (partitions <= 1) or FilterParallel on a new
// goroutine. The returned channel receives exactly one outcome.
func StartFilter(ctx context.Context, src *Store, spec FilterSpec, partitions int, progress Progress) <-chan FilterOutcome {
	done := make(chan FilterOutcome, 1)
	go func() {
		var rows []Row
		var err error
		if partitions <= 1 {
			rows, err = Filter(ctx, src, spec, progress)
		} else {
			rows, err = FilterParallel(ctx, src, spec, partitions, progress)
		}
		var perr *PartitionError
		if err != nil {
			logOutcome("filter", err)
			if !errors.As(err, &perr) {
				rows = nil
			}
		}
		done <- FilterOutcome{Rows: rows, Err: err}
	}()
	return done
}

type filtercmd struct{}

func (cmd *filtercmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var wf workspaceFlags
	wf.Flags(flags)
	spec := NewFilterSpec()
	spec.Flags(flags)
	partitions := flags.Int("partitions", 1, "scan with `N` concurrent workers")
	source := flags.String("source", "clean", "store to filter: raw, clean, or duplicates")
	outputFilename := flags.String("o", "-", "output fasta `file` (.gz to compress)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}
	if err = wf.Setup(); err != nil {
		return 2
	}
	if err = spec.Validate(); err != nil {
		return 2
	}
	ctx, cancel := interruptContext()
	defer cancel()

	src, err := wf.Workspace().Open(*source)
	if err != nil {
		return 1
	}
	defer src.Close()

	outcome := <-StartFilter(ctx, src, spec, *partitions, &logProgress{op: "filter"})
	var perr *PartitionError
	if outcome.Err != nil && !errors.As(outcome.Err, &perr) {
		err = outcome.Err
		return 1
	}

	output, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	err = WriteFasta(bufw, outcome.Rows)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	if perr != nil {
		err = perr
		return 1
	}
	return 0
}
