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
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"github.com/tidytool/seqtidy/seqdiff"
	"golang.org/x/crypto/blake2b"
)

// DuplicateEntry pairs a record from the duplicates store with the
// clean record that has the same key.
type DuplicateEntry struct {
	Duplicate Row
	// Survivor is the zero Row if no clean record has the same key,
	// e.g., because the stores were built with other KeyOptions.
	Survivor Row
}

// ListDuplicates returns every record in dups, in id order, with its
// surviving counterpart in clean.
func ListDuplicates(ctx context.Context, clean, dups *Store, key KeyOptions) ([]DuplicateEntry, error) {
	survivors := map[[blake2b.Size256]byte]int64{}
	cur, err := clean.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	for cur.Next() {
		row := cur.Row()
		survivors[key.digest(row.Record)] = row.ID
	}
	err = cur.Err()
	cur.Close()
	if err != nil {
		return nil, checkCancelled(ctx, err)
	}

	var entries []DuplicateEntry
	cur, err = dups.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	for cur.Next() {
		entries = append(entries, DuplicateEntry{Duplicate: cur.Row()})
	}
	if err := cur.Err(); err != nil {
		return nil, checkCancelled(ctx, err)
	}
	for i := range entries {
		id, ok := survivors[key.digest(entries[i].Duplicate.Record)]
		if !ok {
			continue
		}
		row, found, err := clean.Get(ctx, id)
		if err != nil {
			return nil, checkCancelled(ctx, err)
		} else if found {
			entries[i].Survivor = row
		}
	}
	return entries, nil
}

type duplicatescmd struct{}

func (cmd *duplicatescmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	showDiff := flags.Bool("diff", false, "append the surviving record's id and the header and sequence changes that turn it into the duplicate (\"=\" if unchanged; with the default key only -strip-annotations lets headers differ)")
	diffTimeout := flags.Duration("diff-timeout", time.Second, "give up refining a header or sequence diff after `duration`")
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

	entries, err := ListDuplicates(ctx, clean, dups, key)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(stdout)
	for _, ent := range entries {
		fmt.Fprintf(bufw, "%d\t%d\t%s", ent.Duplicate.ID, utf8.RuneCountInString(ent.Duplicate.Sequence), ent.Duplicate.Header)
		if *showDiff {
			if ent.Survivor.ID == 0 {
				fmt.Fprint(bufw, "\t-\t-\t-")
			} else {
				cmp := seqdiff.Compare(ent.Survivor.Record, ent.Duplicate.Record, *diffTimeout)
				if cmp.TimedOut {
					log.WithField("id", ent.Duplicate.ID).Debug("diff timed out, showing coarse result")
				}
				fmt.Fprintf(bufw, "\t%d\t%s\t%s", ent.Survivor.ID, seqdiff.Describe(cmp.Header), seqdiff.Describe(cmp.Sequence))
			}
		}
		fmt.Fprint(bufw, "\n")
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	return 0
}
