// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"github.com/tidytool/seqtidy/fasta"
)

// DefaultBatchSize is the number of records written per transaction.
const DefaultBatchSize = 1000

var fastaFilenameRe = regexp.MustCompile(`\.(fa|fasta|fas|faa|fna)(\.gz)?$`)

// LoadResult summarizes a Load call.
type LoadResult struct {
	Files   int
	Records int64
}

// Loader replaces the contents of a raw store with the records read
// from a list of FASTA inputs.
type Loader struct {
	Store     *Store
	BatchSize int
	Progress  Progress

	// Stdin is read when an input is "-".
	Stdin io.Reader
}

// Load resets the store, then appends the records of each input in
// order. A directory input contributes its FASTA files in name order.
// Percent progress counts completed files.
//
// If ctx is cancelled, Load stops between batches and returns
// ErrCancelled; the records already committed stay in the store.
func (ldr *Loader) Load(ctx context.Context, inputs []string) (LoadResult, error) {
	var res LoadResult
	progress := orNop(ldr.Progress)
	batchSize := ldr.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	files, err := listInputFiles(inputs)
	if err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, cancelled(err)
	}
	if err := ldr.Store.Reset(ctx); err != nil {
		return res, checkCancelled(ctx, err)
	}
	t0 := time.Now()
	for i, infile := range files {
		progress.Text(fmt.Sprintf("loading %s", infile))
		n, err := ldr.loadFile(ctx, infile, batchSize)
		res.Records += n
		if err != nil {
			return res, err
		}
		res.Files++
		log.Debugf("%s: %d records", infile, n)
		progress.Percent((i + 1) * 100 / len(files))
	}
	if len(files) == 0 {
		progress.Percent(100)
	}
	log.Infof("loaded %d records from %d files in %v", res.Records, res.Files, time.Since(t0))
	return res, nil
}

func (ldr *Loader) loadFile(ctx context.Context, infile string, batchSize int) (int64, error) {
	var input io.Reader
	if infile == "-" {
		if ldr.Stdin == nil {
			return 0, &fasta.FormatError{Source: infile, Err: fmt.Errorf("no stdin")}
		}
		input = ldr.Stdin
	} else {
		f, err := zopen(infile)
		if err != nil {
			return 0, &fasta.FormatError{Source: infile, Err: err}
		}
		defer f.Close()
		input = f
	}
	rdr := fasta.NewReader(input, infile)
	var n int64
	batch := make([]fasta.Record, 0, batchSize)
	flush := func() error {
		if err := ldr.Store.Append(ctx, batch); err != nil {
			return checkCancelled(ctx, err)
		}
		n += int64(len(batch))
		batch = batch[:0]
		return nil
	}
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return n, err
		}
		batch = append(batch, rec)
		if len(batch) < batchSize {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, cancelled(err)
		}
		if err := flush(); err != nil {
			return n, err
		}
	}
	if err := ctx.Err(); err != nil {
		return n, cancelled(err)
	}
	return n, flush()
}

// listInputFiles expands directories into the FASTA files they
// contain. Other paths, and "-", are passed through.
func listInputFiles(paths []string) (files []string, err error) {
	for _, path := range paths {
		if path == "-" {
			files = append(files, path)
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			return nil, &fasta.FormatError{Source: path, Err: err}
		} else if !fi.IsDir() {
			files = append(files, path)
			continue
		}
		d, err := os.Open(path)
		if err != nil {
			return nil, &fasta.FormatError{Source: path, Err: err}
		}
		names, err := d.Readdirnames(0)
		d.Close()
		if err != nil {
			return nil, &fasta.FormatError{Source: path, Err: err}
		}
		sort.Strings(names)
		for _, name := range names {
			if fastaFilenameRe.MatchString(name) {
				files = append(files, filepath.Join(path, name))
			}
		}
	}
	return files, nil
}

// zopen opens fnm, decompressing on the fly if the name ends in
// ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(fnm, ".gz") {
		return f, nil
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

type loadcmd struct{}

func (cmd *loadcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	batchSize := flags.Int("batch-size", DefaultBatchSize, "records per write `transaction`")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: %s [options] {file.fa|file.fa.gz|dir|-} ...\n", prog)
		flags.PrintDefaults()
	}
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}
	if err = wf.Setup(); err != nil {
		return 2
	}
	ctx, cancel := interruptContext()
	defer cancel()

	raw, err := wf.Workspace().OpenRaw()
	if err != nil {
		return 1
	}
	defer raw.Close()
	ldr := Loader{
		Store:     raw,
		BatchSize: *batchSize,
		Progress:  &logProgress{op: "load"},
		Stdin:     stdin,
	}
	res, err := ldr.Load(ctx, flags.Args())
	if err != nil {
		return 1
	}
	fmt.Fprintf(stdout, "files\t%d\nrecords\t%d\n", res.Files, res.Records)
	return 0
}
