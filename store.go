// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidytool/seqtidy/fasta"
	_ "modernc.org/sqlite"
)

// Store files in a workspace directory. Each holds one record table.
const (
	RawStoreFile        = "sequences.db"
	CleanStoreFile      = "clean.db"
	DuplicatesStoreFile = "duplicates.db"
)

const recordTable = "sequences"

// Workspace is a directory holding the raw, clean and duplicates
// stores.
type Workspace struct {
	Dir string
}

func (ws Workspace) OpenRaw() (*Store, error) {
	return OpenStore(filepath.Join(ws.Dir, RawStoreFile))
}

func (ws Workspace) OpenClean() (*Store, error) {
	return OpenStore(filepath.Join(ws.Dir, CleanStoreFile))
}

func (ws Workspace) OpenDuplicates() (*Store, error) {
	return OpenStore(filepath.Join(ws.Dir, DuplicatesStoreFile))
}

// Open opens the store with the given name: "raw", "clean", or
// "duplicates".
func (ws Workspace) Open(name string) (*Store, error) {
	switch name {
	case "raw":
		return ws.OpenRaw()
	case "clean":
		return ws.OpenClean()
	case "duplicates":
		return ws.OpenDuplicates()
	default:
		return nil, fmt.Errorf("unknown store %q (expected raw, clean, or duplicates)", name)
	}
}

// Row is a stored record and its row id.
type Row struct {
	ID int64
	fasta.Record
}

// Store is a table of (id, header, sequence) rows in a SQLite file.
// Reads may run concurrently; writes are serialized.
type Store struct {
	path string
	db   *sql.DB
	mtx  sync.Mutex
}

// OpenStore opens (creating if needed) the store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	db.SetMaxOpenConns(runtime.NumCPU() + 1)
	s := &Store{path: path, db: db}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS ` + recordTable + ` (id INTEGER PRIMARY KEY AUTOINCREMENT, header TEXT NOT NULL, sequence TEXT NOT NULL)`)
	if err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Path: s.path, Err: err}
	}
	return nil
}

// Reset drops and recreates the record table, leaving it empty. Row
// ids start again from 1.
func (s *Store) Reset(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+recordTable); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `CREATE TABLE `+recordTable+` (id INTEGER PRIMARY KEY AUTOINCREMENT, header TEXT NOT NULL, sequence TEXT NOT NULL)`)
		return err
	})
	if err != nil {
		return &StorageError{Op: "reset", Path: s.path, Err: err}
	}
	log.Debugf("%s: reset", s.path)
	return nil
}

// Append inserts recs in order, in a single transaction. Either all of
// them are committed or none are.
func (s *Store) Append(ctx context.Context, recs []fasta.Record) error {
	if len(recs) == 0 {
		return nil
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+recordTable+` (header, sequence) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range recs {
			if _, err := stmt.ExecContext(ctx, rec.Header, rec.Sequence); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "append", Path: s.path, Err: err}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.count(ctx, scanQuery{})
}

// IDBounds returns the smallest and largest row ids. If the store is
// empty, ok is false.
func (s *Store) IDBounds(ctx context.Context) (min, max int64, ok bool, err error) {
	var lo, hi sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MIN(id), MAX(id) FROM `+recordTable).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, &StorageError{Op: "id bounds", Path: s.path, Err: err}
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// Get returns the row with the given id.
func (s *Store) Get(ctx context.Context, id int64) (Row, bool, error) {
	row := Row{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT header, sequence FROM `+recordTable+` WHERE id = ?`, id).Scan(&row.Header, &row.Sequence)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	} else if err != nil {
		return Row{}, false, &StorageError{Op: "get", Path: s.path, Err: err}
	}
	return row, true, nil
}

// ScanAll returns a cursor over all rows in id order.
func (s *Store) ScanAll(ctx context.Context) (*Cursor, error) {
	return s.scan(ctx, scanQuery{})
}

// ScanRange returns a cursor over rows with minID <= id <= maxID, in
// id order.
func (s *Store) ScanRange(ctx context.Context, minID, maxID int64) (*Cursor, error) {
	return s.scan(ctx, scanQuery{idRange: true, minID: minID, maxID: maxID})
}

// scanQuery is a set of conditions evaluated by SQLite. The zero
// value selects every row.
type scanQuery struct {
	idRange      bool
	minID, maxID int64

	// Each group is an AND of lowercase substring terms; groups are
	// OR'ed. Terms must be ASCII. SQLite's lower() only folds ASCII,
	// so headers with other characters are always selected and left
	// for the caller to check.
	nameGroups [][]string

	lengthRange    bool
	minLen, maxLen int
}

// nonASCIIGlob matches text containing a character outside ASCII.
const nonASCIIGlob = "*[^\x01-\x7f]*"

func (q scanQuery) where() (string, []interface{}) {
	var conds []string
	var params []interface{}
	if q.idRange {
		conds = append(conds, "id BETWEEN ? AND ?")
		params = append(params, q.minID, q.maxID)
	}
	if len(q.nameGroups) > 0 {
		ors := []string{"header GLOB ?"}
		params = append(params, nonASCIIGlob)
		for _, group := range q.nameGroups {
			var ands []string
			for _, term := range group {
				ands = append(ands, "instr(lower(header), ?) > 0")
				params = append(params, term)
			}
			ors = append(ors, "("+strings.Join(ands, " AND ")+")")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if q.lengthRange {
		conds = append(conds, "length(sequence) BETWEEN ? AND ?")
		params = append(params, q.minLen, q.maxLen)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), params
}

func (s *Store) scan(ctx context.Context, q scanQuery) (*Cursor, error) {
	where, params := q.where()
	rows, err := s.db.QueryContext(ctx, `SELECT id, header, sequence FROM `+recordTable+where+` ORDER BY id`, params...)
	if err != nil {
		return nil, &StorageError{Op: "scan", Path: s.path, Err: err}
	}
	return &Cursor{rows: rows, path: s.path}, nil
}

func (s *Store) count(ctx context.Context, q scanQuery) (int64, error) {
	where, params := q.where()
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+recordTable+where, params...).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count", Path: s.path, Err: err}
	}
	return n, nil
}

// Cursor streams rows from a store. It must be closed.
type Cursor struct {
	rows *sql.Rows
	path string
	row  Row
	err  error
}

// Next advances to the next row, returning false at the end or on
// error.
func (c *Cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	if err := c.rows.Scan(&c.row.ID, &c.row.Header, &c.row.Sequence); err != nil {
		c.err = err
		return false
	}
	return true
}

// Row returns the current row.
func (c *Cursor) Row() Row { return c.row }

// Err returns the error, if any, that stopped iteration.
func (c *Cursor) Err() error {
	err := c.err
	if err == nil {
		err = c.rows.Err()
	}
	if err != nil {
		return &StorageError{Op: "scan", Path: c.path, Err: err}
	}
	return nil
}

func (c *Cursor) Close() error {
	if err := c.rows.Close(); err != nil {
		return &StorageError{Op: "close cursor", Path: c.path, Err: err}
	}
	return nil
}
