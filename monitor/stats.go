// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-lpc/corrdbg/heap"
	"go-hep.org/x/hep/hbook"
)

// Stats accumulates per-host monitoring statistics, across cycles.
type Stats struct {
	Cycles  int64
	Packets int64
	Heaps   int64

	Trailing int64            // cycles discarded after the last end-of-frame
	Diags    map[string]int64 // rejected packets, by kind
	Jumps    int64
	Zeros    int64

	Steps *hbook.H1D // timestamp steps, in units of the expected step
	Sizes *hbook.H1D // heap payload sizes, in words
}

func newStats() *Stats {
	return &Stats{
		Diags: make(map[string]int64),
		Steps: hbook.NewH1D(10, -0.5, 9.5),
		Sizes: hbook.NewH1D(64, 0, 1024),
	}
}

var diagKinds = []error{
	heap.ErrBadMagic,
	heap.ErrBadFlavour,
	heap.ErrTruncated,
	heap.ErrDuplicateHeaderItem,
	heap.ErrHeapLengthMismatch,
	ErrNoTimestamp,
}

func diagKind(err error) string {
	for _, kind := range diagKinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "heap: unknown"
}

func (st *Stats) fill(res *HostResult, step int64) {
	st.Cycles++
	st.Packets += int64(res.Packets)
	st.Heaps += int64(res.Heaps)
	st.Trailing += int64(res.Trailing)
	st.Jumps += int64(len(res.Jumps))
	st.Zeros += int64(len(res.Zeros))
	for _, d := range res.Diagnostics {
		st.Diags[diagKind(d.Kind)]++
	}
	for _, diff := range res.steps {
		st.Steps.Fill(float64(diff)/float64(step), 1)
	}
	for _, n := range res.sizes {
		st.Sizes.Fill(float64(n), 1)
	}
}

// Summary is a snapshot of the statistics of a host.
type Summary struct {
	Host     string           `json:"host"`
	Cycles   int64            `json:"cycles"`
	Packets  int64            `json:"packets"`
	Heaps    int64            `json:"heaps"`
	Trailing int64            `json:"trailing"`
	Diags    map[string]int64 `json:"diagnostics,omitempty"`
	Jumps    int64            `json:"jumps"`
	Zeros    int64            `json:"zeros"`

	MeanStep float64 `json:"mean_step"` // in units of the expected step
	MeanSize float64 `json:"mean_size"` // in words
}

func (st *Stats) summary(host string) Summary {
	sum := Summary{
		Host:     host,
		Cycles:   st.Cycles,
		Packets:  st.Packets,
		Heaps:    st.Heaps,
		Trailing: st.Trailing,
		Jumps:    st.Jumps,
		Zeros:    st.Zeros,
	}
	if len(st.Diags) > 0 {
		sum.Diags = make(map[string]int64, len(st.Diags))
		for k, v := range st.Diags {
			sum.Diags[k] = v
		}
	}
	if st.Steps.Entries() > 0 {
		sum.MeanStep = st.Steps.XMean()
	}
	if st.Sizes.Entries() > 0 {
		sum.MeanSize = st.Sizes.XMean()
	}
	return sum
}

func (sum Summary) String() string {
	o := fmt.Sprintf("%s: cycles=%d packets=%d heaps=%d trailing=%d jumps=%d zeros=%d step=%.3f size=%.1f",
		sum.Host, sum.Cycles, sum.Packets, sum.Heaps, sum.Trailing,
		sum.Jumps, sum.Zeros, sum.MeanStep, sum.MeanSize,
	)
	kinds := make([]string, 0, len(sum.Diags))
	for k := range sum.Diags {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		o += fmt.Sprintf(" [%s: %d]", k, sum.Diags[k])
	}
	return o
}
