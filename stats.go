// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kshedden/gonpy"
	"github.com/tidytool/seqtidy/annotation"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution summarizes a set of values.
type Distribution struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
}

func newDistribution(sorted []float64) Distribution {
	d := Distribution{Count: len(sorted)}
	if len(sorted) == 0 {
		return d
	}
	d.Min = sorted[0]
	d.Max = sorted[len(sorted)-1]
	d.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		d.StdDev = stat.StdDev(sorted, nil)
	}
	d.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return d
}

// Bin is one histogram bar, counting values v with Lo <= v < Hi.
type Bin struct {
	Lo    float64
	Hi    float64
	Count int
}

// FieldSummary summarizes the values of one annotation field.
type FieldSummary struct {
	Field string
	Distribution
}

// Summary describes the records in a store.
type Summary struct {
	Records   int
	Length    Distribution
	Histogram []Bin
	Fields    []FieldSummary

	lengths []float64
	values  map[annotation.Field][]float64
}

// summaryFields are the annotation fields included in a Summary. The
// annotated Length is left out in favor of the actual sequence length.
var summaryFields = []annotation.Field{
	annotation.Score,
	annotation.EValue,
	annotation.AlignmentLength,
	annotation.Identities,
	annotation.Positives,
	annotation.Gaps,
}

// Summarize scans src and returns sequence length statistics, a
// length histogram with the given number of bins, and statistics for
// each annotation field found in the headers.
func Summarize(ctx context.Context, src *Store, bins int) (*Summary, error) {
	if bins < 1 {
		return nil, &ValidationError{Field: "bins", Reason: fmt.Sprintf("%d is less than 1", bins)}
	}
	s := &Summary{values: map[annotation.Field][]float64{}}
	cur, err := src.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	for cur.Next() {
		row := cur.Row()
		s.lengths = append(s.lengths, float64(utf8.RuneCountInString(row.Sequence)))
		ann := annotation.Parse(row.Header)
		for _, f := range summaryFields {
			if v, ok := ann.Get(f); ok {
				s.values[f] = append(s.values[f], v)
			}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, checkCancelled(ctx, err)
	}
	s.Records = len(s.lengths)

	sorted := append([]float64(nil), s.lengths...)
	sort.Float64s(sorted)
	s.Length = newDistribution(sorted)
	s.Histogram = histogram(sorted, bins)
	for _, f := range summaryFields {
		vals := append([]float64(nil), s.values[f]...)
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		s.Fields = append(s.Fields, FieldSummary{Field: f.String(), Distribution: newDistribution(vals)})
	}
	return s, nil
}

// histogram divides [min, max+1) into equal bins. sorted must be
// sorted integer-valued data.
func histogram(sorted []float64, bins int) []Bin {
	if len(sorted) == 0 {
		return nil
	}
	dividers := floats.Span(make([]float64, bins+1), sorted[0], sorted[len(sorted)-1]+1)
	counts := stat.Histogram(nil, dividers, sorted, nil)
	hist := make([]Bin, bins)
	for i := range hist {
		hist[i] = Bin{Lo: dividers[i], Hi: dividers[i+1], Count: int(counts[i])}
	}
	return hist
}

// npyName returns the .npy file name used for field f, e.g.,
// "alignment_length.npy".
func npyName(f annotation.Field) string {
	name := strings.ToLower(f.String())
	name = strings.NewReplacer(" ", "_", "-", "").Replace(name)
	return name + ".npy"
}

// WriteNumpy writes the sequence lengths (lengths.npy) and each
// annotation field's values, in row order of the records that carry
// it, as 1-D float64 arrays in dir.
func (s *Summary) WriteNumpy(dir string) error {
	if err := writeNpy(filepath.Join(dir, "lengths.npy"), s.lengths); err != nil {
		return err
	}
	for _, f := range summaryFields {
		if vals := s.values[f]; len(vals) > 0 {
			if err := writeNpy(filepath.Join(dir, npyName(f)), vals); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeNpy(fnm string, data []float64) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{len(data)}
	if err := npw.WriteFloat64(data); err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

type statscmd struct{}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	source := flags.String("source", "clean", "store to summarize: raw, clean, or duplicates")
	bins := flags.Int("bins", 20, "number of length histogram `bins`")
	npyDir := flags.String("npy-dir", "", "also write lengths and annotation values as .npy arrays in `dir`")
	outputFilename := flags.String("o", "-", "output json `file`")
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

	src, err := wf.Workspace().Open(*source)
	if err != nil {
		return 1
	}
	defer src.Close()
	summary, err := Summarize(ctx, src, *bins)
	if err != nil {
		return 1
	}
	if *npyDir != "" {
		err = summary.WriteNumpy(*npyDir)
		if err != nil {
			return 1
		}
	}

	output, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	enc := json.NewEncoder(bufw)
	enc.SetIndent("", "  ")
	err = enc.Encode(summary)
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
	return 0
}
