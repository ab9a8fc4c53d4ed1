// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package fasta reads and writes FASTA records.
//
// The reader is permissive: blank lines are ignored anywhere, sequence
// data that appears before the first header is skipped, and a header
// with no sequence lines is dropped. Only an I/O failure on the
// underlying source is reported as an error.
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// LineWidth is the number of sequence characters per line written by
// Writer.
const LineWidth = 60

// Longest physical line accepted by Reader.
const maxLineLength = 1 << 28

// Record is a header/sequence pair. Header does not include the
// leading '>' marker.
type Record struct {
	Header   string
	Sequence string
}

// ID returns the identifier token of a header, i.e., its first
// whitespace-delimited field.
func ID(header string) string {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// FormatError indicates the input source could not be read.
type FormatError struct {
	Source string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: cannot read fasta input: %s", e.Source, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Reader returns one Record at a time from FASTA text.
type Reader struct {
	source   string
	scanner  *bufio.Scanner
	header   string
	inRecord bool
	seq      strings.Builder
	err      error
}

// NewReader returns a Reader that reads from rdr. The source label is
// used in error messages.
func NewReader(rdr io.Reader, source string) *Reader {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 0, 1<<16), maxLineLength)
	return &Reader{source: source, scanner: scanner}
}

// Read returns the next record. At the end of input it returns io.EOF.
// If the source fails, Read returns a *FormatError, and keeps returning
// it on subsequent calls.
func (r *Reader) Read() (Record, error) {
	if r.err != nil {
		return Record{}, r.err
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			rec, ok := r.finish()
			r.header = line[1:]
			r.inRecord = true
			if ok {
				return rec, nil
			}
			continue
		}
		if r.inRecord {
			r.seq.WriteString(line)
		}
	}
	if err := r.scanner.Err(); err != nil {
		r.err = &FormatError{Source: r.source, Err: err}
		return Record{}, r.err
	}
	r.err = io.EOF
	if rec, ok := r.finish(); ok {
		return rec, nil
	}
	return Record{}, io.EOF
}

// finish returns the record accumulated so far, if it has any
// sequence data.
func (r *Reader) finish() (Record, bool) {
	if !r.inRecord {
		return Record{}, false
	}
	rec := Record{Header: r.header, Sequence: r.seq.String()}
	r.seq.Reset()
	r.inRecord = false
	return rec, rec.Sequence != ""
}

// ReadAll returns all records from rdr.
func ReadAll(rdr io.Reader, source string) ([]Record, error) {
	var recs []Record
	r := NewReader(rdr, source)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return recs, nil
		} else if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

// ParseLines parses FASTA text that has already been split into
// lines, e.g., text pasted into an input field.
func ParseLines(lines []string) []Record {
	recs, _ := ReadAll(strings.NewReader(strings.Join(lines, "\n")), "(text)")
	return recs
}

// Writer writes records as FASTA, wrapping sequences at LineWidth
// characters.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes rec. The '>' marker is added unless the header already
// starts with one, so a header that begins with '>' does not survive a
// write and re-read unchanged.
func (w *Writer) Write(rec Record) error {
	if !strings.HasPrefix(rec.Header, ">") {
		if err := w.w.WriteByte('>'); err != nil {
			return err
		}
	}
	if _, err := w.w.WriteString(rec.Header); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	for i := 0; i < len(rec.Sequence); i += LineWidth {
		end := i + LineWidth
		if end > len(rec.Sequence) {
			end = len(rec.Sequence)
		}
		if _, err := w.w.WriteString(rec.Sequence[i:end]); err != nil {
			return err
		}
		if err := w.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
