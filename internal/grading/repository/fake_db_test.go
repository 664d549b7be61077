package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"classjudge/internal/common/db"
)

type execCall struct {
	query string
	args  []interface{}
}

// fakeDB records statements and answers QueryRow from a queue of canned rows.
type fakeDB struct {
	execs      []execCall
	rowQueries []string
	rows       [][]interface{}
	rowErr     error
	queries    []execCall
	results    [][][]interface{}
	execErr    error
	affected   int64
	lastID     int64
}

type fakeResult struct {
	lastID   int64
	affected int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d columns, got %d", len(dest), len(r.values))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type fakeRows struct {
	rows [][]interface{}
	cur  []interface{}
}

func (r *fakeRows) Next() bool {
	if len(r.rows) == 0 {
		return false
	}
	r.cur = r.rows[0]
	r.rows = r.rows[1:]
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return (&fakeRow{values: r.cur}).Scan(dest...)
}

func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return nil }

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.queries = append(f.queries, execCall{query: query, args: args})
	if len(f.results) == 0 {
		return &fakeRows{}, nil
	}
	rows := f.results[0]
	f.results = f.results[1:]
	return &fakeRows{rows: rows}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.rowQueries = append(f.rowQueries, query)
	if f.rowErr != nil {
		return &fakeRow{err: f.rowErr}
	}
	if len(f.rows) == 0 {
		return &fakeRow{err: errNoRows}
	}
	values := f.rows[0]
	f.rows = f.rows[1:]
	return &fakeRow{values: values}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{lastID: f.lastID, affected: f.affected}, nil
}

// Transaction runs fn against the same fake; statements are never rolled back.
func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(fakeTx{f})
}

type fakeTx struct {
	*fakeDB
}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

var errNoRows = fmt.Errorf("fake: %w", sql.ErrNoRows)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
