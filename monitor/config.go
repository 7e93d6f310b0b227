// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/go-lpc/corrdbg/heap"
	"github.com/go-lpc/corrdbg/layoutdb"
	"github.com/go-lpc/corrdbg/packet"
	"github.com/go-lpc/corrdbg/seqcheck"
	"github.com/go-lpc/corrdbg/snap"
)

// Config describes a monitoring setup.
//
// Example:
//
//	snapshot = "gbe_snap"
//	interval = "2s"
//	timeout  = "500ms"
//
//	[arm]
//	trigger = "manual"
//
//	[layout]
//	word-bits = 72
//	[[layout.field]]
//	name  = "data"
//	width = 64
//	...
//
//	[segment]
//	data = "data"
//	eof  = "eof"
//	src  = "ip"
//
//	[sequence]
//	timestamp = 0x1600
//	step = 4096
//
//	[[host]]
//	name   = "skarab02"
//	device = "/dev/mem"
//	offset = 0xff200000
//	size   = 0x10000
//	[host.registers]
//	gbe_snap_ctrl = 0x0
//	...
type Config struct {
	Snapshot  string   `toml:"snapshot"`   // name of the snapshot block
	WordBytes int      `toml:"word-bytes"` // width of a captured word, in bytes (default: layout width)
	Interval  Duration `toml:"interval"`   // delay between two monitoring cycles
	Timeout   Duration `toml:"timeout"`    // capture timeout (zero: wait forever)
	Poll      Duration `toml:"poll"`       // status polling interval

	Arm      ArmConfig      `toml:"arm"`
	Layout   LayoutConfig   `toml:"layout"`
	Segment  SegmentConfig  `toml:"segment"`
	Heap     HeapConfig     `toml:"heap"`
	Sequence SequenceConfig `toml:"sequence"`
	Hosts    []HostConfig   `toml:"host"`
}

// Duration is a time.Duration that reads from TOML strings such as "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(p []byte) error {
	v, err := time.ParseDuration(string(p))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ArmConfig describes how snapshot blocks are armed.
type ArmConfig struct {
	Trigger     string `toml:"trigger"` // "external" or "manual"
	ManualValid bool   `toml:"manual-valid"`
	Circular    bool   `toml:"circular"`
	Offset      *int   `toml:"offset"` // trigger offset, left untouched if absent
}

func (cfg ArmConfig) options() (snap.ArmOptions, error) {
	opts := snap.ArmOptions{
		ManualValid: cfg.ManualValid,
		Circular:    cfg.Circular,
		Offset:      snap.NoOffset,
	}
	switch strings.ToLower(cfg.Trigger) {
	case "", "external":
		opts.Trigger = snap.TriggerExternal
	case "manual":
		opts.Trigger = snap.TriggerManual
	default:
		return opts, fmt.Errorf("monitor: unknown trigger mode %q", cfg.Trigger)
	}
	if cfg.Offset != nil {
		if *cfg.Offset < 0 {
			return opts, fmt.Errorf("monitor: invalid trigger offset %d", *cfg.Offset)
		}
		opts.Offset = *cfg.Offset
	}
	return opts, nil
}

// LayoutConfig describes the layout of a captured word.
// It is either given inline, read from a TOML file, or loaded from the
// design-info database.
type LayoutConfig struct {
	WordBits int           `toml:"word-bits"`
	Fields   []FieldConfig `toml:"field"`

	File string `toml:"file"` // TOML file holding the layout

	DB     string `toml:"db"`     // design-info database DSN
	Design string `toml:"design"` // design name in the database
	Device string `toml:"device"` // device name in the database (default: snapshot name)
}

// FieldConfig describes one field of a layout.
type FieldConfig struct {
	Name   string `toml:"name"`
	Width  int    `toml:"width"`
	BinPt  int    `toml:"bin-pt"`
	Kind   string `toml:"kind"`   // "ufix", "fix" or "bool"
	Offset *int   `toml:"offset"` // packed from the MSB if absent
}

// Build creates the layout described by the configuration.
func (cfg LayoutConfig) Build() (*bitfield.Layout, error) {
	fields := make([]bitfield.FieldSpec, len(cfg.Fields))
	packed := false
	for i, f := range cfg.Fields {
		kind, err := bitfield.ParseFieldType(f.Kind)
		if err != nil {
			return nil, fmt.Errorf("monitor: field %q: %w", f.Name, err)
		}
		fields[i] = bitfield.FieldSpec{
			Name:        f.Name,
			Width:       f.Width,
			BinaryPoint: f.BinPt,
			Type:        kind,
		}
		switch f.Offset {
		case nil:
			packed = true
		default:
			fields[i].Offset = *f.Offset
		}
	}
	if packed {
		return bitfield.Pack(cfg.WordBits, fields)
	}
	return bitfield.NewLayout(cfg.WordBits, fields)
}

// LoadLayout reads a layout from the named TOML file.
func LoadLayout(fname string) (*bitfield.Layout, error) {
	var cfg LayoutConfig
	md, err := toml.DecodeFile(fname, &cfg)
	if err != nil {
		return nil, fmt.Errorf("monitor: could not decode layout file %q: %w", fname, err)
	}
	if err := undecoded(md); err != nil {
		return nil, fmt.Errorf("monitor: invalid layout file %q: %w", fname, err)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("monitor: invalid layout in %q: %w", fname, err)
	}
	return l, nil
}

// SegmentConfig describes how decoded captures are split into packets.
type SegmentConfig struct {
	Data        string   `toml:"data"`
	EOF         string   `toml:"eof"`
	Src         string   `toml:"src"`
	Valid       string   `toml:"valid"`
	DropInvalid bool     `toml:"drop-invalid"`
	Words       []string `toml:"words"` // columns to widen into wire words, in wire order
	Extra       []string `toml:"extra"` // columns repeated on widened wire words
}

func (cfg SegmentConfig) segmenter() packet.Segmenter {
	seg := packet.Segmenter{
		Data:        cfg.Data,
		EOF:         cfg.EOF,
		Src:         cfg.Src,
		Valid:       cfg.Valid,
		DropInvalid: cfg.DropInvalid,
	}
	if len(cfg.Words) > 0 {
		seg.Data = "data"
	}
	return seg
}

// HeapConfig describes the heap protocol flavour.
type HeapConfig struct {
	IDBits   int `toml:"id-bits"`
	AddrBits int `toml:"addr-bits"`
}

func (cfg HeapConfig) flavour() heap.Flavour {
	if cfg.IDBits == 0 && cfg.AddrBits == 0 {
		return heap.Flavour64_40
	}
	return heap.Flavour{IDBits: cfg.IDBits, AddrBits: cfg.AddrBits}
}

// SequenceConfig describes how heap streams are validated.
type SequenceConfig struct {
	Timestamp     uint64   `toml:"timestamp"`      // identifier of the timestamp item
	Step          int64    `toml:"step"`           // expected timestamp step
	Policy        string   `toml:"policy"`         // "observed" or "expected"
	ZeroTolerance int      `toml:"zero-tolerance"` // number of all-zero heaps allowed per stream
	Key           string   `toml:"key"`            // stream key: "src" or "host"
	Expect        []string `toml:"expect"`         // stream keys expected once per time-step
}

func (cfg SequenceConfig) validator() (*seqcheck.Validator, error) {
	policy, err := seqcheck.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	return seqcheck.NewValidator(
		cfg.Step,
		seqcheck.WithPolicy(policy),
		seqcheck.WithZeroTolerance(cfg.ZeroTolerance),
	), nil
}

// HostConfig describes how to reach the registers of a host.
type HostConfig struct {
	Name      string           `toml:"name"`
	Device    string           `toml:"device"` // memory-mapped device file
	Offset    int64            `toml:"offset"` // offset of the register file in the device
	Size      int              `toml:"size"`   // size of the register file
	Registers map[string]int64 `toml:"registers"`
}

// LoadConfig reads a monitoring configuration from the named TOML file.
func LoadConfig(fname string) (*Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("monitor: could not open config file: %w", err)
	}
	defer f.Close()

	cfg, err := ReadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("monitor: could not read config file %q: %w", fname, err)
	}
	if cfg.Layout.File != "" && !filepath.IsAbs(cfg.Layout.File) {
		cfg.Layout.File = filepath.Join(filepath.Dir(fname), cfg.Layout.File)
	}
	return cfg, nil
}

// ReadConfig reads a monitoring configuration from r.
func ReadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("monitor: could not decode config: %w", err)
	}
	if err := undecoded(md); err != nil {
		return nil, fmt.Errorf("monitor: invalid config: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration is consistent.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Snapshot == "":
		return fmt.Errorf("monitor: no snapshot block name")
	case cfg.Segment.EOF == "":
		return fmt.Errorf("monitor: no end-of-frame column")
	case cfg.Segment.Data == "" && len(cfg.Segment.Words) == 0:
		return fmt.Errorf("monitor: no data column")
	case cfg.Sequence.Step <= 0:
		return fmt.Errorf("monitor: invalid timestamp step %d", cfg.Sequence.Step)
	case len(cfg.Hosts) == 0:
		return fmt.Errorf("monitor: no host")
	}

	switch cfg.Sequence.Key {
	case "", "src", "host":
	default:
		return fmt.Errorf("monitor: invalid stream key %q (want src or host)", cfg.Sequence.Key)
	}
	if cfg.Sequence.Key == "src" && cfg.Segment.Src == "" {
		return fmt.Errorf("monitor: stream key %q needs a src column", cfg.Sequence.Key)
	}

	if _, err := cfg.Arm.options(); err != nil {
		return err
	}
	if err := cfg.Heap.flavour().Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if _, err := seqcheck.ParsePolicy(cfg.Sequence.Policy); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		if h.Name == "" {
			return fmt.Errorf("monitor: host #%d has no name", i)
		}
		if _, dup := seen[h.Name]; dup {
			return fmt.Errorf("monitor: duplicate host %q", h.Name)
		}
		seen[h.Name] = struct{}{}
	}
	return nil
}

// LoadLayout returns the layout of the captured words, from the inline
// description, the layout file or the design-info database.
func (cfg *Config) LoadLayout(ctx context.Context) (*bitfield.Layout, error) {
	switch {
	case len(cfg.Layout.Fields) > 0:
		l, err := cfg.Layout.Build()
		if err != nil {
			return nil, fmt.Errorf("monitor: invalid layout: %w", err)
		}
		return l, nil

	case cfg.Layout.File != "":
		return LoadLayout(cfg.Layout.File)

	case cfg.Layout.DB != "":
		db, err := layoutdb.Open(cfg.Layout.DB)
		if err != nil {
			return nil, fmt.Errorf("monitor: could not open layout db: %w", err)
		}
		defer db.Close()

		dev := cfg.Layout.Device
		if dev == "" {
			dev = cfg.Snapshot
		}
		return db.Layout(ctx, cfg.Layout.Design, dev)
	}
	return nil, fmt.Errorf("monitor: no layout description")
}

func undecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	sort.Strings(names)
	return fmt.Errorf("unknown keys %q", names)
}
