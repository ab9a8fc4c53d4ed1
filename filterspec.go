// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"flag"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidytool/seqtidy/annotation"
	"github.com/tidytool/seqtidy/fasta"
)

// StartCodon selects the start-of-sequence check applied by a filter.
type StartCodon int

const (
	NoStartCodon StartCodon = iota
	// ProteinStart requires the sequence to start with M.
	ProteinStart
	// GeneStart requires the sequence to start with ATG.
	GeneStart
)

func (sc StartCodon) String() string {
	switch sc {
	case NoStartCodon:
		return "none"
	case ProteinStart:
		return "protein"
	case GeneStart:
		return "gene"
	default:
		return "StartCodon(" + strconv.Itoa(int(sc)) + ")"
	}
}

// Set implements flag.Value.
func (sc *StartCodon) Set(s string) error {
	switch strings.ToLower(s) {
	case "", "none":
		*sc = NoStartCodon
	case "protein", "m":
		*sc = ProteinStart
	case "gene", "atg":
		*sc = GeneStart
	default:
		return fmt.Errorf("unknown start codon check %q (expected none, protein, or gene)", s)
	}
	return nil
}

func (sc StartCodon) prefix() string {
	switch sc {
	case ProteinStart:
		return "M"
	case GeneStart:
		return "ATG"
	}
	return ""
}

// Range is an inclusive numeric interval. A disabled range matches
// everything.
type Range struct {
	Enabled  bool
	Min, Max float64
}

func (r Range) Contains(v float64) bool {
	return r.Min <= v && v <= r.Max
}

// IntRange is an inclusive interval of sequence lengths.
type IntRange struct {
	Enabled  bool
	Min, Max int
}

func (r IntRange) Contains(v int) bool {
	return r.Min <= v && v <= r.Max
}

// FilterSpec is a compound predicate over records. All enabled parts
// must match.
type FilterSpec struct {
	// Each group is an AND of case-insensitive header substrings.
	// A record matches if any group matches. Empty matches all.
	NameGroups [][]string

	// A record matches if any term occurs in the sequence with at
	// most the mismatches allowed by Similarity. Empty matches all.
	SeqTerms []string

	// Percent identity required for a SeqTerms match, 0..100. 100
	// means exact substring.
	Similarity int

	Length     IntRange
	StartCodon StartCodon

	// Annotation ranges. A record whose header lacks an enabled
	// field does not match.
	Score           Range
	EValue          Range
	AlignmentLength Range
	Identities      Range
	Positives       Range
}

// NewFilterSpec returns a FilterSpec that matches every record.
func NewFilterSpec() FilterSpec {
	return FilterSpec{Similarity: 100}
}

func (spec *FilterSpec) annotationRanges() []struct {
	field annotation.Field
	r     *Range
} {
	return []struct {
		field annotation.Field
		r     *Range
	}{
		{annotation.Score, &spec.Score},
		{annotation.EValue, &spec.EValue},
		{annotation.AlignmentLength, &spec.AlignmentLength},
		{annotation.Identities, &spec.Identities},
		{annotation.Positives, &spec.Positives},
	}
}

// Validate returns a *ValidationError if spec cannot be evaluated.
func (spec *FilterSpec) Validate() error {
	if spec.Similarity < 0 || spec.Similarity > 100 {
		return &ValidationError{Field: "similarity", Reason: fmt.Sprintf("%d is not in 0..100", spec.Similarity)}
	}
	if spec.Length.Enabled {
		if spec.Length.Min < 0 {
			return &ValidationError{Field: "length", Reason: fmt.Sprintf("minimum %d is negative", spec.Length.Min)}
		}
		if spec.Length.Min > spec.Length.Max {
			return &ValidationError{Field: "length", Reason: fmt.Sprintf("minimum %d exceeds maximum %d", spec.Length.Min, spec.Length.Max)}
		}
	}
	if spec.StartCodon < NoStartCodon || spec.StartCodon > GeneStart {
		return &ValidationError{Field: "start codon", Reason: spec.StartCodon.String()}
	}
	for _, ar := range spec.annotationRanges() {
		r := ar.r
		if !r.Enabled {
			continue
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) {
			return &ValidationError{Field: ar.field.String(), Reason: "range bound is NaN"}
		}
		if r.Min > r.Max {
			return &ValidationError{Field: ar.field.String(), Reason: fmt.Sprintf("minimum %g exceeds maximum %g", r.Min, r.Max)}
		}
	}
	return nil
}

// Match reports whether rec satisfies spec, evaluating every predicate
// in memory. spec must be valid.
func (spec *FilterSpec) Match(rec fasta.Record) bool {
	return spec.compile(false).match(rec)
}

// ParseNameGroups parses name filter text: each line is one group of
// comma-separated terms. Terms are trimmed and lowercased; blank terms
// and groups with no terms are dropped.
func ParseNameGroups(lines []string) [][]string {
	var groups [][]string
	for _, line := range lines {
		for _, line := range strings.Split(line, "\n") {
			var group []string
			for _, term := range strings.Split(line, ",") {
				term = strings.ToLower(strings.TrimSpace(term))
				if term != "" {
					group = append(group, term)
				}
			}
			if len(group) > 0 {
				groups = append(groups, group)
			}
		}
	}
	return groups
}

// Flags binds spec to command line flags. A range is enabled when
// either of its bound flags is given.
func (spec *FilterSpec) Flags(flags *flag.FlagSet) {
	flags.Func("name", "keep records whose header contains all of the comma-separated `terms` (case-insensitive; repeat for alternatives)", func(s string) error {
		spec.NameGroups = append(spec.NameGroups, ParseNameGroups([]string{s})...)
		return nil
	})
	flags.Func("seq", "keep records whose sequence approximately contains `term` (repeat for alternatives)", func(s string) error {
		spec.SeqTerms = append(spec.SeqTerms, s)
		return nil
	})
	flags.IntVar(&spec.Similarity, "similarity", 100, "percent identity required for -seq matches (100 = exact)")
	flags.Var(&intBound{r: &spec.Length}, "min-len", "minimum sequence `length`")
	flags.Var(&intBound{r: &spec.Length, max: true}, "max-len", "maximum sequence `length`")
	flags.Var(&spec.StartCodon, "start-codon", "require sequences to start with M (`protein`) or ATG (gene)")
	for _, b := range []struct {
		name string
		r    *Range
	}{
		{"score", &spec.Score},
		{"evalue", &spec.EValue},
		{"align-len", &spec.AlignmentLength},
		{"identities", &spec.Identities},
		{"positives", &spec.Positives},
	} {
		flags.Var(&floatBound{r: b.r}, "min-"+b.name, "minimum annotated "+b.name+" `value`")
		flags.Var(&floatBound{r: b.r, max: true}, "max-"+b.name, "maximum annotated "+b.name+" `value`")
	}
}

type floatBound struct {
	r   *Range
	max bool
}

func (b *floatBound) String() string {
	if b.r == nil || !b.r.Enabled {
		return ""
	}
	if b.max {
		return strconv.FormatFloat(b.r.Max, 'g', -1, 64)
	}
	return strconv.FormatFloat(b.r.Min, 'g', -1, 64)
}

func (b *floatBound) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	if !b.r.Enabled {
		*b.r = Range{Enabled: true, Min: math.Inf(-1), Max: math.Inf(1)}
	}
	if b.max {
		b.r.Max = v
	} else {
		b.r.Min = v
	}
	return nil
}

type intBound struct {
	r   *IntRange
	max bool
}

func (b *intBound) String() string {
	if b.r == nil || !b.r.Enabled {
		return ""
	}
	if b.max {
		return strconv.Itoa(b.r.Max)
	}
	return strconv.Itoa(b.r.Min)
}

func (b *intBound) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if !b.r.Enabled {
		*b.r = IntRange{Enabled: true, Min: 0, Max: math.MaxInt32}
	}
	if b.max {
		b.r.Max = v
	} else {
		b.r.Min = v
	}
	return nil
}

// matcher is a compiled FilterSpec. Predicates that the store
// evaluates (see query) are skipped by match.
type matcher struct {
	query scanQuery

	lengthInStore bool
	namesInStore  bool

	length      IntRange
	prefix      string
	nameGroups  [][]string
	fields      []fieldRange
	seqTerms    []string
	maxMismatch []int
}

type fieldRange struct {
	field annotation.Field
	r     Range
}

// compile prepares spec for evaluation. If pushdown is true, the
// length range and (when all terms are ASCII) the name groups are
// moved into the returned matcher's query.
func (spec *FilterSpec) compile(pushdown bool) *matcher {
	m := &matcher{
		length: spec.Length,
		prefix: spec.StartCodon.prefix(),
	}
	for _, group := range spec.NameGroups {
		var lgroup []string
		for _, term := range group {
			if term = strings.ToLower(term); term != "" {
				lgroup = append(lgroup, term)
			}
		}
		if len(lgroup) > 0 {
			m.nameGroups = append(m.nameGroups, lgroup)
		}
	}
	for _, ar := range spec.annotationRanges() {
		if ar.r.Enabled {
			m.fields = append(m.fields, fieldRange{ar.field, *ar.r})
		}
	}
	for _, term := range spec.SeqTerms {
		if term == "" {
			continue
		}
		term = strings.ToLower(term)
		m.seqTerms = append(m.seqTerms, term)
		m.maxMismatch = append(m.maxMismatch, maxMismatches(spec.Similarity, utf8.RuneCountInString(term)))
	}
	if !pushdown {
		return m
	}
	if spec.Length.Enabled {
		m.lengthInStore = true
		m.query.lengthRange = true
		m.query.minLen, m.query.maxLen = spec.Length.Min, spec.Length.Max
	}
	if len(m.nameGroups) > 0 && allASCII(m.nameGroups) {
		m.namesInStore = true
		m.query.nameGroups = m.nameGroups
	}
	return m
}

func allASCII(groups [][]string) bool {
	for _, group := range groups {
		for _, term := range group {
			if !isASCII(term) {
				return false
			}
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// match evaluates the residual predicates, cheapest first.
func (m *matcher) match(rec fasta.Record) bool {
	if m.length.Enabled && !m.lengthInStore && !m.length.Contains(utf8.RuneCountInString(rec.Sequence)) {
		return false
	}
	if m.prefix != "" && !hasPrefixFold(rec.Sequence, m.prefix) {
		return false
	}
	// The store only evaluates name terms against ASCII headers.
	if len(m.nameGroups) > 0 && (!m.namesInStore || !isASCII(rec.Header)) && !m.matchName(strings.ToLower(rec.Header)) {
		return false
	}
	if len(m.fields) > 0 {
		ann := annotation.Parse(rec.Header)
		for _, fr := range m.fields {
			v, ok := ann.Get(fr.field)
			if !ok || !fr.r.Contains(v) {
				return false
			}
		}
	}
	if len(m.seqTerms) > 0 && !m.matchSequence(strings.ToLower(rec.Sequence)) {
		return false
	}
	return true
}

func (m *matcher) matchName(header string) bool {
GROUP:
	for _, group := range m.nameGroups {
		for _, term := range group {
			if !strings.Contains(header, term) {
				continue GROUP
			}
		}
		return true
	}
	return false
}

func (m *matcher) matchSequence(seq string) bool {
	for i, term := range m.seqTerms {
		if approxContains(seq, term, m.maxMismatch[i]) {
			return true
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// maxMismatches returns floor((1 - similarity/100) * termLen).
func maxMismatches(similarity, termLen int) int {
	return (100 - similarity) * termLen / 100
}

// approxContains reports whether some window of seq, of the same
// length as term, differs from term in at most maxMismatch positions.
// Both arguments must already be lowercased.
func approxContains(seq, term string, maxMismatch int) bool {
	if maxMismatch <= 0 {
		return strings.Contains(seq, term)
	}
	s, t := []rune(seq), []rune(term)
	if len(t) > len(s) {
		return false
	}
	if maxMismatch >= len(t) {
		return true
	}
WINDOW:
	for i := 0; i+len(t) <= len(s); i++ {
		mismatches := 0
		for j, r := range t {
			if s[i+j] != r {
				mismatches++
				if mismatches > maxMismatch {
					continue WINDOW
				}
			}
		}
		return true
	}
	return false
}
