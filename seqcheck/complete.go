// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package seqcheck

import (
	"fmt"
	"sort"
	"strings"
)

// Completeness checks that a fixed set of identifiers is seen once per
// time-step.
type Completeness struct {
	ids   []string
	want  map[string]struct{}
	steps map[int64]map[string]int
}

// Report is the outcome of a closed time-step.
type Report struct {
	Timestamp  int64
	Missing    []string // identifiers not seen
	Duplicates []string // identifiers seen more than once
	Unknown    []string // identifiers not part of the expected set
}

// OK reports whether the time-step was complete.
func (r Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Duplicates) == 0 && len(r.Unknown) == 0
}

func (r Report) String() string {
	if r.OK() {
		return fmt.Sprintf("ts=%d: complete", r.Timestamp)
	}
	var o []string
	if len(r.Missing) > 0 {
		o = append(o, "missing="+strings.Join(r.Missing, ","))
	}
	if len(r.Duplicates) > 0 {
		o = append(o, "duplicates="+strings.Join(r.Duplicates, ","))
	}
	if len(r.Unknown) > 0 {
		o = append(o, "unknown="+strings.Join(r.Unknown, ","))
	}
	return fmt.Sprintf("ts=%d: %s", r.Timestamp, strings.Join(o, " "))
}

// NewCompleteness creates a completeness check for the provided identifiers.
func NewCompleteness(ids ...string) *Completeness {
	c := &Completeness{
		ids:   make([]string, 0, len(ids)),
		want:  make(map[string]struct{}, len(ids)),
		steps: make(map[int64]map[string]int),
	}
	for _, id := range ids {
		if _, dup := c.want[id]; dup {
			continue
		}
		c.want[id] = struct{}{}
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
	return c
}

// Mark records that id was seen at time-step ts.
func (c *Completeness) Mark(ts int64, id string) {
	step, ok := c.steps[ts]
	if !ok {
		step = make(map[string]int, len(c.ids))
		c.steps[ts] = step
	}
	step[id]++
}

// Pending returns the sorted list of open time-steps.
func (c *Completeness) Pending() []int64 {
	o := make([]int64, 0, len(c.steps))
	for ts := range c.steps {
		o = append(o, ts)
	}
	sort.Slice(o, func(i, j int) bool { return o[i] < o[j] })
	return o
}

// Close closes time-step ts and reports what was missing.
func (c *Completeness) Close(ts int64) Report {
	step := c.steps[ts]
	delete(c.steps, ts)

	r := Report{Timestamp: ts}
	for _, id := range c.ids {
		switch n := step[id]; {
		case n == 0:
			r.Missing = append(r.Missing, id)
		case n > 1:
			r.Duplicates = append(r.Duplicates, id)
		}
	}
	for id := range step {
		if _, ok := c.want[id]; !ok {
			r.Unknown = append(r.Unknown, id)
		}
	}
	sort.Strings(r.Unknown)
	return r
}

// CloseBefore closes all the time-steps older than ts, in order.
func (c *Completeness) CloseBefore(ts int64) []Report {
	var o []Report
	for _, t := range c.Pending() {
		if t >= ts {
			break
		}
		o = append(o, c.Close(t))
	}
	return o
}
