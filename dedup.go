// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidytool/seqtidy/annotation"
	"github.com/tidytool/seqtidy/fasta"
	"golang.org/x/crypto/blake2b"
)

// KeyOptions selects the parts of a record that make up its
// equivalence key.
type KeyOptions struct {
	CheckName     bool
	CheckSequence bool

	// StripAnnotations drops the bracketed annotation tag from the
	// header before it becomes part of the key.
	StripAnnotations bool
}

// Key returns the equivalence key of rec. With neither part selected,
// both are used.
func (o KeyOptions) Key(rec fasta.Record) string {
	name, seq := o.CheckName, o.CheckSequence
	if !name && !seq {
		name, seq = true, true
	}
	header := rec.Header
	if name && o.StripAnnotations {
		header = annotation.Strip(header)
	}
	switch {
	case name && seq:
		return header + rec.Sequence
	case name:
		return header
	default:
		return rec.Sequence
	}
}

func (o KeyOptions) digest(rec fasta.Record) [blake2b.Size256]byte {
	return blake2b.Sum256([]byte(o.Key(rec)))
}

func (o *KeyOptions) Flags(flags *flag.FlagSet) {
	flags.BoolVar(&o.CheckName, "check-name", false, "records with equal headers are duplicates")
	flags.BoolVar(&o.CheckSequence, "check-sequence", false, "records with equal sequences are duplicates (default when neither -check-name nor -check-sequence is given: both)")
	flags.BoolVar(&o.StripAnnotations, "strip-annotations", false, "ignore the [Length: ...] annotation tag when comparing headers")
}

// DedupResult counts the records written by a deduplication run.
type DedupResult struct {
	Clean      int64
	Duplicates int64
	Total      int64
}

// Deduplicator copies the records of Source into Clean and
// Duplicates. The first record with a given key, in row id order, goes
// to Clean; every later one goes to Duplicates unchanged.
type Deduplicator struct {
	Source     *Store
	Clean      *Store
	Duplicates *Store
	Key        KeyOptions
	BatchSize  int
	Progress   Progress
}

// Run resets Clean and Duplicates and fills them.
//
// Cancellation is checked at each progress tick, and a batch write
// that fails because ctx was cancelled counts as cancellation too. In
// either case the pending batches are written out before Run returns
// ErrCancelled, so the destination stores hold a consistent prefix of
// the source.
func (dd *Deduplicator) Run(ctx context.Context) (DedupResult, error) {
	var res DedupResult
	progress := orNop(dd.Progress)
	batchSize := dd.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	t0 := time.Now()

	progress.Text("fetching records")
	total, err := dd.Source.Count(ctx)
	if err != nil {
		return DedupResult{}, checkCancelled(ctx, err)
	}
	for _, dst := range []*Store{dd.Clean, dd.Duplicates} {
		if err := dst.Reset(ctx); err != nil {
			return DedupResult{}, checkCancelled(ctx, err)
		}
	}
	if total == 0 {
		progress.Percent(100)
		return res, nil
	}
	cur, err := dd.Source.ScanAll(ctx)
	if err != nil {
		return DedupResult{}, checkCancelled(ctx, err)
	}
	defer cur.Close()

	var cleanBuf, dupBuf []fasta.Record
	flushClean := func(ctx context.Context) error {
		if err := dd.Clean.Append(ctx, cleanBuf); err != nil {
			return err
		}
		res.Clean += int64(len(cleanBuf))
		cleanBuf = cleanBuf[:0]
		return nil
	}
	flushDups := func(ctx context.Context) error {
		if err := dd.Duplicates.Append(ctx, dupBuf); err != nil {
			return err
		}
		res.Duplicates += int64(len(dupBuf))
		dupBuf = dupBuf[:0]
		return nil
	}
	// Pending batches are written with a context that is not
	// cancelled, so a cancelled run still commits whole batches.
	flushPending := func() error {
		if err := flushDups(context.Background()); err != nil {
			return err
		}
		return flushClean(context.Background())
	}
	// abort turns err into ErrCancelled if ctx has been cancelled.
	abort := func(err error) error {
		if ctx.Err() == nil {
			return err
		}
		if err := flushPending(); err != nil {
			return err
		}
		return cancelled(ctx.Err())
	}

	progress.Text("filtering duplicates")
	seen := make(map[[blake2b.Size256]byte]struct{})
	tk := newTicker(progress, total)
	for cur.Next() {
		if tk.Tick() && ctx.Err() != nil {
			return DedupResult{}, abort(nil)
		}
		rec := cur.Row().Record
		res.Total++
		key := dd.Key.digest(rec)
		if _, dup := seen[key]; dup {
			dupBuf = append(dupBuf, rec)
			if len(dupBuf) >= batchSize {
				err = flushDups(ctx)
			}
		} else {
			seen[key] = struct{}{}
			cleanBuf = append(cleanBuf, rec)
			if len(cleanBuf) >= batchSize {
				err = flushClean(ctx)
			}
		}
		if err != nil {
			return DedupResult{}, abort(err)
		}
	}
	if err := cur.Err(); err != nil {
		return DedupResult{}, abort(err)
	}

	progress.Text("saving duplicates")
	if err := flushDups(ctx); err != nil {
		return DedupResult{}, abort(err)
	}
	progress.Text("saving clean set")
	if err := flushClean(ctx); err != nil {
		return DedupResult{}, abort(err)
	}
	tk.Done()
	log.Infof("dedup: %d clean, %d duplicates of %d records in %v", res.Clean, res.Duplicates, res.Total, time.Since(t0))
	return res, nil
}

// Deduplicate runs a Deduplicator with the default batch size.
func Deduplicate(ctx context.Context, source, clean, duplicates *Store, key KeyOptions, progress Progress) (DedupResult, error) {
	dd := Deduplicator{
		Source:     source,
		Clean:      clean,
		Duplicates: duplicates,
		Key:        key,
		Progress:   progress,
	}
	return dd.Run(ctx)
}

// DedupOutcome is delivered when a background deduplication run ends.
// On failure or cancellation Result is zero and Err is set.
type DedupOutcome struct {
	Result DedupResult
	Err    error
}

// StartDeduplicate runs dd on a new goroutine. The returned channel
// receives exactly one outcome.
func StartDeduplicate(ctx context.Context, dd *Deduplicator) <-chan DedupOutcome {
	done := make(chan DedupOutcome, 1)
	go func() {
		res, err := dd.Run(ctx)
		if err != nil {
			logOutcome("dedup", err)
			res = DedupResult{}
		}
		done <- DedupOutcome{Result: res, Err: err}
	}()
	return done
}

func logOutcome(op string, err error) {
	if errors.Is(err, ErrCancelled) {
		log.WithField("op", op).Info("cancelled")
	} else {
		log.WithField("op", op).WithError(err).Error("failed")
	}
}

type dedupcmd struct{}

func (cmd *dedupcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	var key KeyOptions
	key.Flags(flags)
	batchSize := flags.Int("batch-size", DefaultBatchSize, "records per write `transaction`")
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
	ctx, cancel := interruptContext()
	defer cancel()

	ws := wf.Workspace()
	raw, err := ws.OpenRaw()
	if err != nil {
		return 1
	}
	defer raw.Close()
	clean, err := ws.OpenClean()
	if err != nil {
		return 1
	}
	defer clean.Close()
	dups, err := ws.OpenDuplicates()
	if err != nil {
		return 1
	}
	defer dups.Close()

	outcome := <-StartDeduplicate(ctx, &Deduplicator{
		Source:     raw,
		Clean:      clean,
		Duplicates: dups,
		Key:        key,
		BatchSize:  *batchSize,
		Progress:   &logProgress{op: "dedup"},
	})
	if err = outcome.Err; err != nil {
		return 1
	}
	fmt.Fprintf(stdout, "clean\t%d\nduplicates\t%d\ntotal\t%d\n", outcome.Result.Clean, outcome.Result.Duplicates, outcome.Result.Total)
	return 0
}
