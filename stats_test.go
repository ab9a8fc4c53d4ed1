// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/kshedden/gonpy"
	"github.com/tidytool/seqtidy/annotation"
	"github.com/tidytool/seqtidy/fasta"
	"gopkg.in/check.v1"
)

type statsSuite struct{}

var _ = check.Suite(&statsSuite{})

func statsTestStore(c *check.C) *Store {
	return openTestStore(c, "clean.db",
		fasta.Record{Header: "hit1 [Length: 2, Score: 10, E-Value: 0.5, Alignment Length: 2, Identities: 50%, Positives: 100%, Gaps: 0]", Sequence: "MK"},
		fasta.Record{Header: "hit2 [Score: 30]", Sequence: "MKVL"},
		fasta.Record{Header: "hit3", Sequence: "MKVLAT"},
		fasta.Record{Header: "hit4 [Score: 20, Gaps: 1]", Sequence: "MKVLATGG"},
	)
}

func (s *statsSuite) TestSummarize(c *check.C) {
	st := statsTestStore(c)
	defer st.Close()
	sum, err := Summarize(context.Background(), st, 4)
	c.Assert(err, check.IsNil)
	c.Check(sum.Records, check.Equals, 4)
	c.Check(sum.Length.Count, check.Equals, 4)
	c.Check(sum.Length.Min, check.Equals, 2.0)
	c.Check(sum.Length.Max, check.Equals, 8.0)
	c.Check(sum.Length.Mean, check.Equals, 5.0)
	c.Check(sum.Length.Median, check.Equals, 4.0)
	c.Check(sum.Length.StdDev > 2.5 && sum.Length.StdDev < 2.6, check.Equals, true)

	c.Assert(sum.Histogram, check.HasLen, 4)
	total := 0
	for i, bin := range sum.Histogram {
		total += bin.Count
		if i > 0 {
			c.Check(bin.Lo, check.Equals, sum.Histogram[i-1].Hi)
		}
	}
	c.Check(total, check.Equals, 4)
	c.Check(sum.Histogram[0].Lo, check.Equals, 2.0)
	c.Check(sum.Histogram[3].Hi, check.Equals, 9.0)

	fields := map[string]FieldSummary{}
	for _, fs := range sum.Fields {
		fields[fs.Field] = fs
	}
	c.Check(fields["Score"].Count, check.Equals, 3)
	c.Check(fields["Score"].Mean, check.Equals, 20.0)
	c.Check(fields["Score"].Median, check.Equals, 20.0)
	c.Check(fields["Gaps"].Count, check.Equals, 2)
	c.Check(fields["Identities"].Max, check.Equals, 50.0)
	_, hasLength := fields["Length"]
	c.Check(hasLength, check.Equals, false)
}

func (s *statsSuite) TestNonFiniteAnnotations(c *check.C) {
	st := openTestStore(c, "clean.db",
		fasta.Record{Header: "hit1 [Score: NaN]", Sequence: "ACGT"},
		fasta.Record{Header: "hit2 [Score: 5]", Sequence: "ACGT"},
		fasta.Record{Header: "hit3 [Score: Inf]", Sequence: "ACGT"})
	defer st.Close()
	sum, err := Summarize(context.Background(), st, 2)
	c.Assert(err, check.IsNil)
	c.Assert(sum.Fields, check.HasLen, 1)
	c.Check(sum.Fields[0].Field, check.Equals, "Score")
	c.Check(sum.Fields[0].Count, check.Equals, 1)
	c.Check(sum.Fields[0].Mean, check.Equals, 5.0)
	_, err = json.Marshal(sum)
	c.Check(err, check.IsNil)
}

func (s *statsSuite) TestEmpty(c *check.C) {
	st := openTestStore(c, "clean.db")
	defer st.Close()
	sum, err := Summarize(context.Background(), st, 10)
	c.Assert(err, check.IsNil)
	c.Check(sum.Records, check.Equals, 0)
	c.Check(sum.Histogram, check.HasLen, 0)
	c.Check(sum.Fields, check.HasLen, 0)

	_, err = Summarize(context.Background(), st, 0)
	var verr *ValidationError
	c.Check(errors.As(err, &verr), check.Equals, true)
}

func (s *statsSuite) TestWriteNumpy(c *check.C) {
	st := statsTestStore(c)
	defer st.Close()
	sum, err := Summarize(context.Background(), st, 4)
	c.Assert(err, check.IsNil)
	dir := c.MkDir()
	c.Assert(sum.WriteNumpy(dir), check.IsNil)

	f, err := os.Open(filepath.Join(dir, "lengths.npy"))
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{4})
	lengths, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Check(lengths, check.DeepEquals, []float64{2, 4, 6, 8})

	f2, err := os.Open(filepath.Join(dir, npyName(annotation.Score)))
	c.Assert(err, check.IsNil)
	defer f2.Close()
	npy, err = gonpy.NewReader(f2)
	c.Assert(err, check.IsNil)
	scores, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Check(scores, check.DeepEquals, []float64{10, 30, 20})

	c.Check(npyName(annotation.AlignmentLength), check.Equals, "alignment_length.npy")
	c.Check(npyName(annotation.EValue), check.Equals, "evalue.npy")
}
