// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	log "github.com/sirupsen/logrus"
)

// Progress receives status updates from long-running operations.
// Implementations must be safe to call from worker goroutines.
type Progress interface {
	// Percent reports completion, 0..100.
	Percent(int)
	// Text reports the start of a new phase.
	Text(string)
}

// ProgressFuncs adapts a pair of functions to the Progress interface.
// Nil funcs are ignored.
type ProgressFuncs struct {
	OnPercent func(int)
	OnText    func(string)
}

func (p ProgressFuncs) Percent(pct int) {
	if p.OnPercent != nil {
		p.OnPercent(pct)
	}
}

func (p ProgressFuncs) Text(text string) {
	if p.OnText != nil {
		p.OnText(text)
	}
}

type nopProgress struct{}

func (nopProgress) Percent(int) {}
func (nopProgress) Text(string) {}

func orNop(p Progress) Progress {
	if p == nil {
		return nopProgress{}
	}
	return p
}

// logProgress logs phase labels, and every 10th percent, with the
// given operation name.
type logProgress struct {
	op   string
	last int
}

func (p *logProgress) Percent(pct int) {
	if pct/10 == p.last/10 && pct != 100 {
		return
	}
	p.last = pct
	log.WithField("op", p.op).Debugf("%d%%", pct)
}

func (p *logProgress) Text(text string) {
	log.WithField("op", p.op).Info(text)
}

// ticker emits a Percent update roughly every 1% of total items,
// starting with the first item.
type ticker struct {
	progress Progress
	total    int64
	every    int64
	n        int64
}

func newTicker(progress Progress, total int64) *ticker {
	every := total / 100
	if every < 1 {
		every = 1
	}
	return &ticker{progress: progress, total: total, every: every}
}

// Tick counts one item and reports whether an update was emitted.
// Callers poll for cancellation when it returns true.
func (t *ticker) Tick() bool {
	t.n++
	if (t.n-1)%t.every != 0 {
		return false
	}
	pct := 100
	if t.total > 0 && t.n < t.total {
		pct = int(t.n * 100 / t.total)
	}
	t.progress.Percent(pct)
	return true
}

func (t *ticker) Done() {
	t.progress.Percent(100)
}
