// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package annotation parses the alignment annotation tag that the
// search-result formatter appends to FASTA headers:
//
//	<hit-id> [Length: L, Score: S, E-Value: E, Alignment Length: A, Identities: I, Positives: P, Gaps: G]
//
// Key matching is case-insensitive and ignores spaces, '-' and '_', so
// "E-Value", "E value" and "evalue" are the same key. Values may carry
// a trailing '%'. Values that are not finite decimal numbers (e.g., "?",
// "NaN", "Inf" or "0x1p3") are treated as absent.
package annotation

import (
	"regexp"
	"strconv"
	"strings"
)

// Field identifies one numeric annotation.
type Field int

const (
	Length Field = iota
	Score
	EValue
	AlignmentLength
	Identities
	Positives
	Gaps
	numFields
)

var fieldNames = [numFields]string{
	Length:          "Length",
	Score:           "Score",
	EValue:          "E-Value",
	AlignmentLength: "Alignment Length",
	Identities:      "Identities",
	Positives:       "Positives",
	Gaps:            "Gaps",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "Field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldNames[f]
}

// Fields returns all known fields in tag order.
func Fields() []Field {
	fs := make([]Field, numFields)
	for i := range fs {
		fs[i] = Field(i)
	}
	return fs
}

// normalized key -> field
var keyField = map[string]Field{
	"length":          Length,
	"score":           Score,
	"evalue":          EValue,
	"alignmentlength": AlignmentLength,
	"alignlength":     AlignmentLength,
	"identities":      Identities,
	"positives":       Positives,
	"gaps":            Gaps,
}

var (
	tagRe    = regexp.MustCompile(`\[[^\[\]]*\]`)
	numberRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
)

// Annotations holds the fields found in one header.
type Annotations struct {
	values  [numFields]float64
	present [numFields]bool
}

// Get returns the value of f and whether the header had it.
func (a Annotations) Get(f Field) (float64, bool) {
	if f < 0 || f >= numFields {
		return 0, false
	}
	return a.values[f], a.present[f]
}

// Len returns the number of fields present.
func (a Annotations) Len() int {
	n := 0
	for _, ok := range a.present {
		if ok {
			n++
		}
	}
	return n
}

// Parse extracts annotations from header. Bracketed groups that
// contain no known keys (e.g., "[Homo sapiens]") are ignored. If a
// field appears more than once, the first occurrence is used.
func Parse(header string) Annotations {
	var a Annotations
	for _, loc := range tagRe.FindAllStringIndex(header, -1) {
		parseGroup(header[loc[0]+1:loc[1]-1], &a)
	}
	return a
}

// parseGroup reads "Key: value" pairs from the inside of one bracketed
// group into a, and reports whether any known key was seen.
func parseGroup(group string, a *Annotations) bool {
	known := false
	for _, pair := range strings.Split(group, ",") {
		sep := strings.IndexAny(pair, ":=")
		if sep < 0 {
			continue
		}
		f, ok := keyField[normalizeKey(pair[:sep])]
		if !ok {
			continue
		}
		known = true
		if a.present[f] {
			continue
		}
		val := strings.TrimSuffix(strings.TrimSpace(pair[sep+1:]), "%")
		if !numberRe.MatchString(val) {
			continue
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			// out of range
			continue
		}
		a.values[f] = v
		a.present[f] = true
	}
	return known
}

func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(key))
}

// Strip returns header without its annotation tag (the first bracketed
// group that has a known key, and everything after it), with
// surrounding whitespace removed. A header with no tag is returned
// trimmed but otherwise unchanged.
func Strip(header string) string {
	for _, loc := range tagRe.FindAllStringIndex(header, -1) {
		var scratch Annotations
		if parseGroup(header[loc[0]+1:loc[1]-1], &scratch) {
			return strings.TrimSpace(header[:loc[0]])
		}
	}
	return strings.TrimSpace(header)
}
