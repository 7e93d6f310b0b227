// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory database/sql driver, registered
// as "fakedb", that serves canned rows.
package fakedb // import "github.com/go-lpc/corrdbg/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

var state struct {
	mu    sync.Mutex
	rows  Rows
	query string
	args  []driver.Value
}

// Run runs f while any query on a fakedb connection returns rows.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rows = rows
	state.query = ""
	state.args = nil

	return f(ctx)
}

// LastQuery returns the last query run by f, and its arguments.
// It must be called from within Run.
func LastQuery() (string, []driver.Value) {
	return state.query, state.args
}

func init() {
	sql.Register("fakedb", &Driver{})
}

// Driver is the fakedb driver.
type Driver struct{}

// Open returns a new connection; name is ignored.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &conn{}, nil
}

type conn struct{}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{query: query}, nil
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return nil, driver.ErrSkip
}

type stmt struct {
	query string
}

func (st *stmt) Close() error  { return nil }
func (st *stmt) NumInput() int { return -1 }

func (st *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return nil, driver.ErrSkip
}

func (st *stmt) Query(args []driver.Value) (driver.Rows, error) {
	state.query = st.query
	state.args = args

	rows := &Rows{
		Names:  state.rows.Names,
		Values: make([][]driver.Value, len(state.rows.Values)),
	}
	copy(rows.Values, state.rows.Values)
	return rows, nil
}

// Rows is a canned query result.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string { return rows.Names }
func (rows *Rows) Close() error      { return nil }

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*conn)(nil)
	_ driver.Stmt   = (*stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
