// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// idRange is an inclusive interval of row ids.
type idRange struct {
	Min, Max int64
}

// splitIDRange divides [min, max] into n contiguous ranges of equal
// size; the last one absorbs the remainder. If the interval holds
// fewer than n ids, it is divided into single ids.
func splitIDRange(min, max int64, n int) []idRange {
	span := max - min + 1
	if span < 1 {
		return nil
	}
	if int64(n) > span {
		n = int(span)
	}
	size := span / int64(n)
	parts := make([]idRange, n)
	lo := min
	for i := range parts {
		hi := lo + size - 1
		if i == n-1 {
			hi = max
		}
		parts[i] = idRange{lo, hi}
		lo = hi + 1
	}
	return parts
}

// scanPartition filters one partition of a parallel scan.
var scanPartition = filterQuery

// FilterParallel is like Filter, but splits the id range of src into
// partitions that are scanned concurrently. The result is the
// concatenation of the partitions' results, in partition order.
//
// A failed partition does not abort the others: FilterParallel
// returns the rows found by the partitions that succeeded together
// with a *PartitionError. Cancellation returns ErrCancelled and no
// rows.
func FilterParallel(ctx context.Context, src *Store, spec FilterSpec, partitions int, progress Progress) ([]Row, error) {
	if partitions < 1 {
		return nil, &ValidationError{Field: "partitions", Reason: fmt.Sprintf("%d is less than 1", partitions)}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	progress = orNop(progress)
	t0 := time.Now()
	min, max, ok, err := src.IDBounds(ctx)
	if err != nil {
		return nil, checkCancelled(ctx, err)
	} else if !ok {
		progress.Percent(100)
		return nil, nil
	}
	parts := splitIDRange(min, max, partitions)
	m := spec.compile(true)
	agg := newProgressMerger(progress, len(parts))

	results := make([][]Row, len(parts))
	failed := map[int]error{}
	var mtx sync.Mutex
	thr := throttle{Max: len(parts)}
	for i, part := range parts {
		i, part := i, part
		thr.Go(func() error {
			rows, err := scanPartition(ctx, src, m, scanQuery{idRange: true, minID: part.Min, maxID: part.Max}, agg.partition(i))
			if errors.Is(err, ErrCancelled) {
				return err
			} else if err != nil {
				log.WithField("partition", i).WithError(err).Warn("partition failed")
				mtx.Lock()
				failed[i] = err
				mtx.Unlock()
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}

	var merged []Row
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	log.Infof("filter: %d matches in %d partitions in %v", len(merged), len(parts), time.Since(t0))
	if len(failed) > 0 {
		return merged, &PartitionError{Partitions: len(parts), Failed: failed}
	}
	return merged, nil
}

// progressMerger reports the average of several partitions' progress.
type progressMerger struct {
	progress Progress
	mtx      sync.Mutex
	pct      []int
	last     int
}

func newProgressMerger(progress Progress, n int) *progressMerger {
	return &progressMerger{progress: progress, pct: make([]int, n), last: -1}
}

func (pm *progressMerger) partition(i int) Progress {
	return ProgressFuncs{
		OnPercent: func(pct int) { pm.update(i, pct) },
		OnText:    pm.progress.Text,
	}
}

func (pm *progressMerger) update(i, pct int) {
	pm.mtx.Lock()
	defer pm.mtx.Unlock()
	pm.pct[i] = pct
	sum := 0
	for _, p := range pm.pct {
		sum += p
	}
	avg := sum / len(pm.pct)
	if avg != pm.last {
		pm.last = avg
		pm.progress.Percent(avg)
	}
}
