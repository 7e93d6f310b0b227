// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layoutdb loads snapshot and register layouts from the
// design-info database, filled from the build artifacts of the FPGA
// designs.
package layoutdb // import "github.com/go-lpc/corrdbg/layoutdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"
	timeout = 5 * time.Second
)

// DB is a connection to the design-info database.
type DB struct {
	db   *sql.DB
	name string
}

// DSN returns the data source name of a MySQL design-info database.
func DSN(user, passwd, addr, dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = passwd
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = dbname
	cfg.Timeout = timeout
	return cfg.FormatDSN()
}

// Open opens a connection to the database described by dsn.
func Open(dsn string) (*DB, error) {
	name := dsn
	if cfg, err := mysql.ParseDSN(dsn); err == nil && cfg.DBName != "" {
		name = cfg.DBName
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("layoutdb: could not open %q db: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("layoutdb: could not ping %q db: %w", name, err)
	}

	return &DB{db: db, name: name}, nil
}

// Close closes the connection to the database.
func (db *DB) Close() error {
	return db.db.Close()
}

const layoutQuery = `SELECT f.name, f.width, f.bin_pt, f.kind, f.bit_offset, s.word_bits
FROM fields AS f
JOIN devices AS s ON f.device_id = s.id
WHERE s.design = ? AND s.name = ?
ORDER BY f.position`

// Layout loads the layout of the device name (a snapshot block or a
// software register) of the provided design.
//
// Fields without a bit offset are packed from the most significant bit,
// in position order.
func (db *DB) Layout(ctx context.Context, design, name string) (*bitfield.Layout, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, layoutQuery, design, name)
	if err != nil {
		return nil, fmt.Errorf("layoutdb: could not query layout of %s/%s: %w", design, name, err)
	}
	defer rows.Close()

	var (
		fields []bitfield.FieldSpec
		bits   int
		packed = false
	)
	for rows.Next() {
		var (
			f    bitfield.FieldSpec
			kind string
			off  sql.NullInt64
		)
		err = rows.Scan(&f.Name, &f.Width, &f.BinaryPoint, &kind, &off, &bits)
		if err != nil {
			return nil, fmt.Errorf("layoutdb: could not scan field of %s/%s: %w", design, name, err)
		}
		f.Type, err = bitfield.ParseFieldType(kind)
		if err != nil {
			return nil, fmt.Errorf("layoutdb: field %q of %s/%s: %w", f.Name, design, name, err)
		}
		if off.Valid {
			f.Offset = int(off.Int64)
		} else {
			packed = true
		}
		fields = append(fields, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("layoutdb: could not scan db for %s/%s: %w", design, name, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("layoutdb: context error while retrieving %s/%s: %w", design, name, err)
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("layoutdb: no layout for %s/%s in %q db", design, name, db.name)
	}

	var l *bitfield.Layout
	switch {
	case packed:
		l, err = bitfield.Pack(bits, fields)
	default:
		l, err = bitfield.NewLayout(bits, fields)
	}
	if err != nil {
		return nil, fmt.Errorf("layoutdb: invalid layout for %s/%s: %w", design, name, err)
	}
	return l, nil
}

const devicesQuery = `SELECT name FROM devices WHERE design = ? ORDER BY name`

// Devices lists the devices with a layout in the provided design.
func (db *DB) Devices(ctx context.Context, design string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, devicesQuery, design)
	if err != nil {
		return nil, fmt.Errorf("layoutdb: could not query devices of %s: %w", design, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, fmt.Errorf("layoutdb: could not scan device of %s: %w", design, err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("layoutdb: could not scan db for devices of %s: %w", design, err)
	}
	return names, nil
}
