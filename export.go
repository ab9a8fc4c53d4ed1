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
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"github.com/tidytool/seqtidy/fasta"
)

// WriteFasta writes rows to w as FASTA, wrapping sequences at
// fasta.LineWidth columns.
func WriteFasta(w io.Writer, rows []Row) error {
	fw := fasta.NewWriter(w)
	for _, row := range rows {
		if err := fw.Write(row.Record); err != nil {
			return err
		}
	}
	return fw.Flush()
}

// ExportSelected streams src and writes, as FASTA, the records whose
// identifier (first word of the header) is in ids. If ids is empty,
// every record is written. It returns the number of records written.
func ExportSelected(ctx context.Context, src *Store, ids map[string]bool, w io.Writer) (int, error) {
	cur, err := src.ScanAll(ctx)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	fw := fasta.NewWriter(w)
	n := 0
	for cur.Next() {
		rec := cur.Row().Record
		if len(ids) > 0 && !ids[fasta.ID(rec.Header)] {
			continue
		}
		if err := fw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, checkCancelled(ctx, err)
	}
	return n, fw.Flush()
}

// readIDs returns the first word of each non-blank line of r.
func readIDs(r io.Reader, ids map[string]bool) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if id := fasta.ID(scanner.Text()); id != "" {
			ids[strings.TrimPrefix(id, ">")] = true
		}
	}
	return scanner.Err()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// createOutput returns stdout if fnm is "-". Otherwise it creates fnm,
// compressing with gzip if the name ends in ".gz".
func createOutput(fnm string, stdout io.Writer) (io.WriteCloser, error) {
	if fnm == "-" {
		return nopCloser{stdout}, nil
	}
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(fnm, ".gz") {
		return f, nil
	}
	return &gzipw{Writer: pgzip.NewWriter(f), f: f}, nil
}

// gzipw closes the gzip stream, then the underlying file.
type gzipw struct {
	*pgzip.Writer
	f      *os.File
	closed bool
}

func (gw *gzipw) Close() error {
	if gw.closed {
		return nil
	}
	gw.closed = true
	e1 := gw.Writer.Close()
	e2 := gw.f.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

type exportcmd struct{}

func (cmd *exportcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	source := flags.String("source", "clean", "store to export: raw, clean, or duplicates")
	idsFilename := flags.String("ids", "", "read identifiers to export from `file`, one per line (- for stdin)")
	outputFilename := flags.String("o", "-", "output fasta `file` (.gz to compress)")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: %s [options] [identifier ...]\n", prog)
		flags.PrintDefaults()
	}
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if err = wf.Setup(); err != nil {
		return 2
	}
	ctx, cancel := interruptContext()
	defer cancel()

	ids := map[string]bool{}
	for _, id := range flags.Args() {
		ids[id] = true
	}
	if *idsFilename == "-" {
		err = readIDs(stdin, ids)
	} else if *idsFilename != "" {
		var f io.ReadCloser
		f, err = zopen(*idsFilename)
		if err != nil {
			return 1
		}
		err = readIDs(f, ids)
		f.Close()
	}
	if err != nil {
		return 1
	}
	if *idsFilename != "" && len(ids) == 0 {
		err = fmt.Errorf("%s: no identifiers", *idsFilename)
		return 1
	}

	src, err := wf.Workspace().Open(*source)
	if err != nil {
		return 1
	}
	defer src.Close()
	output, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	n, err := ExportSelected(ctx, src, ids, bufw)
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
	log.Infof("exported %d records", n)
	return 0
}
