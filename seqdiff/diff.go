// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package seqdiff describes how a duplicate record differs from the
// record it duplicates. Each difference is written in HGVS-like
// notation ("5A>C", "6_7del", "2_3insC", "3_5delinsCCC") with 1-based
// character positions, so protein letters and non-ASCII header text
// are counted one per character.
package seqdiff

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/tidytool/seqtidy/fasta"
)

// Change replaces Ref, starting at character Position of the original
// text, with New.
type Change struct {
	Position int
	Ref      string
	New      string
}

func (ch Change) String() string {
	end := ch.Position + utf8.RuneCountInString(ch.Ref) - 1
	switch {
	case ch.Ref == "" && ch.New == "":
		return fmt.Sprintf("%d=", ch.Position)
	case ch.New == "" && end == ch.Position:
		return fmt.Sprintf("%ddel", ch.Position)
	case ch.New == "":
		return fmt.Sprintf("%d_%ddel", ch.Position, end)
	case ch.Ref == "":
		return fmt.Sprintf("%d_%dins%s", ch.Position-1, ch.Position, ch.New)
	case end == ch.Position && utf8.RuneCountInString(ch.New) == 1:
		return fmt.Sprintf("%d%s>%s", ch.Position, ch.Ref, ch.New)
	case end == ch.Position:
		return fmt.Sprintf("%ddelins%s", ch.Position, ch.New)
	default:
		return fmt.Sprintf("%d_%ddelins%s", ch.Position, end, ch.New)
	}
}

// Diff returns the changes that turn a into b. If timeout > 0 and
// the diff takes longer, a coarser (but still correct) result is
// returned and timedOut is true.
func Diff(a, b string, timeout time.Duration) (changes []Change, timedOut bool) {
	dmp := diffmatchpatch.New()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	diffs := dmp.DiffBisect(a, b, deadline)
	timedOut = timeout > 0 && time.Now().After(deadline)
	diffs = normalize(dmp.DiffCleanupEfficiency(diffs))

	pos, open := 1, false
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			pos += utf8.RuneCountInString(d.Text)
			open = false
			continue
		}
		if !open {
			changes = append(changes, Change{Position: pos})
			open = true
		}
		ch := &changes[len(changes)-1]
		if d.Type == diffmatchpatch.DiffDelete {
			ch.Ref += d.Text
			pos += utf8.RuneCountInString(d.Text)
		} else {
			ch.New += d.Text
		}
	}
	return changes, timedOut
}

// normalize merges neighboring diffs of the same type, and rewrites
// [del X, eq E, ins YE] as [del X, ins EY, eq E] so the deletion and
// insertion come out as one change.
func normalize(in []diffmatchpatch.Diff) []diffmatchpatch.Diff {
	out := make([]diffmatchpatch.Diff, 0, len(in))
	for _, d := range in {
		if n := len(out); n > 0 && out[n-1].Type == d.Type {
			out[n-1].Text += d.Text
			continue
		}
		out = append(out, d)
	}
	for i := 0; i+2 < len(out); i++ {
		del, eq, ins := out[i], out[i+1], out[i+2]
		if del.Type == diffmatchpatch.DiffDelete &&
			eq.Type == diffmatchpatch.DiffEqual &&
			ins.Type == diffmatchpatch.DiffInsert &&
			strings.HasSuffix(ins.Text, eq.Text) {
			out[i+1] = diffmatchpatch.Diff{Type: diffmatchpatch.DiffInsert, Text: eq.Text + strings.TrimSuffix(ins.Text, eq.Text)}
			out[i+2] = eq
		}
	}
	return out
}

// Describe returns the changes separated by ";", or "=" if there are
// none.
func Describe(changes []Change) string {
	if len(changes) == 0 {
		return "="
	}
	strs := make([]string, len(changes))
	for i, ch := range changes {
		strs[i] = ch.String()
	}
	return strings.Join(strs, ";")
}

// Comparison is the difference between a surviving record and one of
// its duplicates.
type Comparison struct {
	Header   []Change
	Sequence []Change
	TimedOut bool
}

// Compare diffs the header and the sequence of dup against survivor.
// Which of the two can differ depends on the key the records were
// deduplicated with: under a sequence-only key the headers differ, and
// under a name-only key the sequences do. The timeout applies to each
// diff separately.
func Compare(survivor, dup fasta.Record, timeout time.Duration) Comparison {
	var cmp Comparison
	var t1, t2 bool
	cmp.Header, t1 = Diff(survivor.Header, dup.Header, timeout)
	cmp.Sequence, t2 = Diff(survivor.Sequence, dup.Sequence, timeout)
	cmp.TimedOut = t1 || t2
	return cmp
}

// Identical reports whether the records are the same.
func (cmp Comparison) Identical() bool {
	return len(cmp.Header) == 0 && len(cmp.Sequence) == 0
}
