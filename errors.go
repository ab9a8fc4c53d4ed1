// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned when an operation stops because its context
// was cancelled. It is not a failure: callers report it as "no
// results".
var ErrCancelled = errors.New("operation cancelled")

// StorageError indicates a record store could not be opened, read or
// written. The operation that returned it was aborted; the process
// can continue.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError indicates a malformed filter parameter. It is
// returned before any records are scanned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PartitionError reports the partitions of a parallel scan that
// failed. It is returned together with the records found by the
// partitions that succeeded.
type PartitionError struct {
	Partitions int
	Failed     map[int]error
}

func (e *PartitionError) Error() string {
	var msgs []string
	for i := 0; i < e.Partitions; i++ {
		if err, ok := e.Failed[i]; ok {
			msgs = append(msgs, fmt.Sprintf("partition %d: %s", i, err))
		}
	}
	return fmt.Sprintf("%d of %d partitions failed: %s", len(e.Failed), e.Partitions, strings.Join(msgs, "; "))
}

func (e *PartitionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for i := 0; i < e.Partitions; i++ {
		if err, ok := e.Failed[i]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}

// cancelled converts a context error into ErrCancelled.
func cancelled(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCancelled, err)
}
