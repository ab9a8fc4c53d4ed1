// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"context"
	"errors"
	"sync"

	"gopkg.in/check.v1"
)

type scannerSuite struct{}

var _ = check.Suite(&scannerSuite{})

func (s *scannerSuite) TestSplitIDRange(c *check.C) {
	c.Check(splitIDRange(1, 10, 1), check.DeepEquals, []idRange{{1, 10}})
	c.Check(splitIDRange(1, 10, 3), check.DeepEquals, []idRange{{1, 3}, {4, 6}, {7, 10}})
	c.Check(splitIDRange(5, 8, 4), check.DeepEquals, []idRange{{5, 5}, {6, 6}, {7, 7}, {8, 8}})
	c.Check(splitIDRange(5, 7, 10), check.DeepEquals, []idRange{{5, 5}, {6, 6}, {7, 7}})
	c.Check(splitIDRange(3, 3, 2), check.DeepEquals, []idRange{{3, 3}})
	c.Check(splitIDRange(4, 3, 2), check.HasLen, 0)

	// contiguous, non-overlapping, exhaustive
	for n := 1; n < 20; n++ {
		parts := splitIDRange(100, 1099, n)
		c.Check(parts, check.HasLen, n)
		c.Check(parts[0].Min, check.Equals, int64(100))
		c.Check(parts[n-1].Max, check.Equals, int64(1099))
		for i := 1; i < n; i++ {
			c.Check(parts[i].Min, check.Equals, parts[i-1].Max+1)
		}
	}
}

func (s *scannerSuite) TestEquivalence(c *check.C) {
	st := openTestStore(c, "clean.db", randomRecords(500)...)
	defer st.Close()
	ctx := context.Background()
	for i, spec := range randomSpecs() {
		one, err := FilterParallel(ctx, st, spec, 1, nil)
		c.Check(err, check.IsNil)
		four, err := FilterParallel(ctx, st, spec, 4, nil)
		c.Check(err, check.IsNil)
		plain, err := Filter(ctx, st, spec, nil)
		c.Check(err, check.IsNil)
		c.Check(headers(four), check.DeepEquals, headers(one), check.Commentf("spec %d", i))
		c.Check(headers(plain), check.DeepEquals, headers(one), check.Commentf("spec %d", i))
	}
}

func (s *scannerSuite) TestMorePartitionsThanRows(c *check.C) {
	st := openTestStore(c, "clean.db", randomRecords(3)...)
	defer st.Close()
	rows, err := FilterParallel(context.Background(), st, NewFilterSpec(), 16, nil)
	c.Check(err, check.IsNil)
	c.Check(rows, check.HasLen, 3)
}

func (s *scannerSuite) TestEmptyStore(c *check.C) {
	st := openTestStore(c, "clean.db")
	defer st.Close()
	var pcts []int
	rows, err := FilterParallel(context.Background(), st, NewFilterSpec(), 4, ProgressFuncs{OnPercent: func(p int) { pcts = append(pcts, p) }})
	c.Check(err, check.IsNil)
	c.Check(rows, check.HasLen, 0)
	c.Check(pcts, check.DeepEquals, []int{100})
}

func (s *scannerSuite) TestInvalid(c *check.C) {
	var verr *ValidationError
	_, err := FilterParallel(context.Background(), nil, NewFilterSpec(), 0, nil)
	c.Check(errors.As(err, &verr), check.Equals, true)
	c.Check(verr.Field, check.Equals, "partitions")
}

func (s *scannerSuite) TestProgress(c *check.C) {
	st := openTestStore(c, "clean.db", randomRecords(400)...)
	defer st.Close()
	var mtx sync.Mutex
	var pcts []int
	_, err := FilterParallel(context.Background(), st, NewFilterSpec(), 4, ProgressFuncs{OnPercent: func(p int) {
		mtx.Lock()
		defer mtx.Unlock()
		pcts = append(pcts, p)
	}})
	c.Check(err, check.IsNil)
	c.Assert(len(pcts) > 0, check.Equals, true)
	for i := 1; i < len(pcts); i++ {
		c.Check(pcts[i] > pcts[i-1], check.Equals, true)
	}
	c.Check(pcts[len(pcts)-1], check.Equals, 100)
}

func (s *scannerSuite) TestCancel(c *check.C) {
	st := openTestStore(c, "clean.db", randomRecords(400)...)
	defer st.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rows, err := FilterParallel(ctx, st, NewFilterSpec(), 4, ProgressFuncs{OnPercent: func(p int) {
		if p >= 10 {
			cancel()
		}
	}})
	c.Check(errors.Is(err, ErrCancelled), check.Equals, true)
	c.Check(rows, check.IsNil)
}

func (s *scannerSuite) TestPartitionError(c *check.C) {
	perr := &PartitionError{Partitions: 4, Failed: map[int]error{
		3: errors.New("disk on fire"),
		1: errors.New("bad sector"),
	}}
	c.Check(perr, check.ErrorMatches, `2 of 4 partitions failed: partition 1: bad sector; partition 3: disk on fire`)
	c.Check(perr.Unwrap(), check.HasLen, 2)
}

// A failed partition leaves the other partitions' rows in the result.
func (s *scannerSuite) TestFailedPartition(c *check.C) {
	st := openTestStore(c, "clean.db", randomRecords(40)...)
	defer st.Close()
	ctx := context.Background()
	all, err := Filter(ctx, st, NewFilterSpec(), nil)
	c.Assert(err, check.IsNil)
	c.Assert(all, check.HasLen, 40)
	min, max, _, err := st.IDBounds(ctx)
	c.Assert(err, check.IsNil)
	bad := splitIDRange(min, max, 4)[1]
	var want []Row
	for _, row := range all {
		if row.ID < bad.Min || row.ID > bad.Max {
			want = append(want, row)
		}
	}

	defer func(orig func(context.Context, *Store, *matcher, scanQuery, Progress) ([]Row, error)) {
		scanPartition = orig
	}(scanPartition)
	scanPartition = func(ctx context.Context, src *Store, m *matcher, q scanQuery, progress Progress) ([]Row, error) {
		if q.minID == bad.Min {
			return nil, &StorageError{Op: "scan", Path: src.Path(), Err: errors.New("disk I/O error")}
		}
		return filterQuery(ctx, src, m, q, progress)
	}

	rows, err := FilterParallel(ctx, st, NewFilterSpec(), 4, nil)
	var perr *PartitionError
	c.Assert(errors.As(err, &perr), check.Equals, true)
	c.Check(perr.Partitions, check.Equals, 4)
	c.Check(perr.Failed, check.HasLen, 1)
	c.Check(perr.Failed[1], check.ErrorMatches, `scan .*: disk I/O error`)
	c.Check(rows, check.DeepEquals, want)

	outcome := <-StartFilter(ctx, st, NewFilterSpec(), 4, nil)
	c.Check(errors.As(outcome.Err, &perr), check.Equals, true)
	c.Check(outcome.Rows, check.DeepEquals, want)
}
