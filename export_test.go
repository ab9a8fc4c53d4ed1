// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/tidytool/seqtidy/fasta"
	"gopkg.in/check.v1"
)

type exportSuite struct{}

var _ = check.Suite(&exportSuite{})

func (s *exportSuite) TestWriteFasta(c *check.C) {
	var buf bytes.Buffer
	err := WriteFasta(&buf, []Row{
		{ID: 1, Record: fasta.Record{Header: "long", Sequence: strings.Repeat("A", 60) + strings.Repeat("C", 61)}},
		{ID: 2, Record: fasta.Record{Header: ">short", Sequence: "MK"}},
	})
	c.Assert(err, check.IsNil)
	c.Check(buf.String(), check.Equals, ">long\n"+strings.Repeat("A", 60)+"\n"+strings.Repeat("C", 60)+"\nC\n>short\nMK\n")
}

// Filtered records survive export and re-ingest unchanged.
func (s *exportSuite) TestRoundTrip(c *check.C) {
	recs := randomRecords(200)
	for i := range recs[:20] {
		recs[i].Sequence = strings.Repeat(recs[i].Sequence, 5)
	}
	st := openTestStore(c, "clean.db", recs...)
	defer st.Close()
	spec := NewFilterSpec()
	spec.Length = IntRange{Enabled: true, Min: 20, Max: 1000}
	rows, err := Filter(context.Background(), st, spec, nil)
	c.Assert(err, check.IsNil)
	c.Assert(len(rows) > 20, check.Equals, true)

	var buf bytes.Buffer
	c.Assert(WriteFasta(&buf, rows), check.IsNil)
	reread, err := fasta.ReadAll(&buf, "export")
	c.Assert(err, check.IsNil)
	c.Check(reread, check.DeepEquals, records(rows))
}

func (s *exportSuite) TestExportSelected(c *check.C) {
	st := openTestStore(c, "clean.db",
		fasta.Record{Header: "hit1 kinase [Score: 1]", Sequence: "MK"},
		fasta.Record{Header: "hit2 kinase", Sequence: "MKV"},
		fasta.Record{Header: "hit3", Sequence: "MKVL"},
	)
	defer st.Close()
	var buf bytes.Buffer
	n, err := ExportSelected(context.Background(), st, map[string]bool{"hit1": true, "hit3": true, "hit9": true}, &buf)
	c.Check(err, check.IsNil)
	c.Check(n, check.Equals, 2)
	c.Check(buf.String(), check.Equals, ">hit1 kinase [Score: 1]\nMK\n>hit3\nMKVL\n")

	buf.Reset()
	n, err = ExportSelected(context.Background(), st, nil, &buf)
	c.Check(err, check.IsNil)
	c.Check(n, check.Equals, 3)
}

func (s *exportSuite) TestReadIDs(c *check.C) {
	ids := map[string]bool{}
	c.Check(readIDs(strings.NewReader("hit1 extra words\n\n  >hit2\n"), ids), check.IsNil)
	c.Check(ids, check.DeepEquals, map[string]bool{"hit1": true, "hit2": true})
}

func (s *exportSuite) TestGzipOutput(c *check.C) {
	fnm := c.MkDir() + "/out.fa.gz"
	out, err := createOutput(fnm, nil)
	c.Assert(err, check.IsNil)
	c.Assert(WriteFasta(out, []Row{{Record: fasta.Record{Header: "a", Sequence: "ACGT"}}}), check.IsNil)
	c.Assert(out.Close(), check.IsNil)
	c.Check(out.Close(), check.IsNil)

	f, err := os.Open(fnm)
	c.Assert(err, check.IsNil)
	defer f.Close()
	zr, err := pgzip.NewReader(f)
	c.Assert(err, check.IsNil)
	recs, err := fasta.ReadAll(zr, fnm)
	c.Check(err, check.IsNil)
	c.Check(recs, check.DeepEquals, []fasta.Record{{Header: "a", Sequence: "ACGT"}})
}
