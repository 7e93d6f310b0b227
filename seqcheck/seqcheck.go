// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seqcheck validates the timing and the completeness of streams
// of heaps.
package seqcheck // import "github.com/go-lpc/corrdbg/seqcheck"

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrSequenceBackwards = errors.New("seqcheck: sequence went backwards")
	ErrSequenceJump      = errors.New("seqcheck: sequence jump")
	ErrUnexpectedZero    = errors.New("seqcheck: unexpected zero")
)

// IsFatal reports whether err signals a hardware or logic fault that
// should stop monitoring.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSequenceBackwards)
}

// Policy selects how the last timestamp of a stream is updated after a jump.
type Policy uint8

const (
	// TrackObserved moves the last timestamp to the observed one.
	TrackObserved Policy = iota
	// TrackExpected moves the last timestamp by one step.
	TrackExpected
)

func (p Policy) String() string {
	switch p {
	case TrackObserved:
		return "observed"
	case TrackExpected:
		return "expected"
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "observed", "":
		return TrackObserved, nil
	case "expected":
		return TrackExpected, nil
	}
	return 0, fmt.Errorf("seqcheck: unknown policy %q", s)
}

// State is the sequence state of one stream.
type State struct {
	Last   int64 // last timestamp
	Primed bool  // whether a timestamp was observed
	Zeros  int   // zero samples left in the budget
}

// Stats summarizes what a validator has seen.
type Stats struct {
	Observed  int // number of observed timestamps
	Jumps     int // number of sequence jumps
	Backwards int // number of backward steps
	Anomalies int // number of unexpected zeros
}

// Validator checks that, for each stream, timestamps increase by a fixed
// step.
// A Validator is not safe for concurrent use.
type Validator struct {
	step   int64
	policy Policy
	zeros  int

	streams map[string]*State
	stats   Stats
}

// Option configures a Validator.
type Option func(v *Validator)

// WithPolicy sets how jumps update the stream state.
func WithPolicy(p Policy) Option {
	return func(v *Validator) {
		v.policy = p
	}
}

// WithZeroTolerance sets the number of zero samples each stream may carry
// before they are reported.
func WithZeroTolerance(n int) Option {
	return func(v *Validator) {
		if n < 0 {
			n = 0
		}
		v.zeros = n
	}
}

// NewValidator creates a validator, expecting timestamps to increase by step.
func NewValidator(step int64, opts ...Option) *Validator {
	v := &Validator{
		step:    step,
		streams: make(map[string]*State),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Step returns the expected timestamp step.
func (v *Validator) Step() int64 { return v.step }

func (v *Validator) stream(key string) *State {
	st, ok := v.streams[key]
	if !ok {
		st = &State{Zeros: v.zeros}
		v.streams[key] = st
	}
	return st
}

// Observe checks timestamp ts of the stream key.
//
// The first timestamp of a stream primes it.
// A timestamp lower than the previous one is fatal, and reported as
// ErrSequenceBackwards.
// A timestamp that is not one step after the previous one is reported as
// ErrSequenceJump.
func (v *Validator) Observe(key string, ts int64) error {
	st := v.stream(key)
	v.stats.Observed++
	if !st.Primed {
		st.Primed = true
		st.Last = ts
		return nil
	}

	var (
		last = st.Last
		diff = ts - last
	)
	switch {
	case diff < 0:
		v.stats.Backwards++
		st.Last = ts
		return fmt.Errorf("%w: stream %q: timestamp %d after %d", ErrSequenceBackwards, key, ts, last)

	case diff != v.step:
		v.stats.Jumps++
		switch v.policy {
		case TrackExpected:
			st.Last = last + v.step
		default:
			st.Last = ts
		}
		return fmt.Errorf("%w: stream %q: timestamp %d after %d (diff=%d, step=%d)",
			ErrSequenceJump, key, ts, last, diff, v.step,
		)
	}

	st.Last = ts
	return nil
}

// Sample checks the sample value x of stream key against the zero
// tolerance budget.
// Zeros are accepted while the stream's budget lasts, and reported as
// ErrUnexpectedZero afterwards.
func (v *Validator) Sample(key string, x float64) error {
	if x != 0 {
		return nil
	}
	st := v.stream(key)
	if st.Zeros > 0 {
		st.Zeros--
		return nil
	}
	v.stats.Anomalies++
	return fmt.Errorf("%w: stream %q: zero tolerance budget (%d) exhausted", ErrUnexpectedZero, key, v.zeros)
}

// State returns the state of stream key.
func (v *Validator) State(key string) (State, bool) {
	st, ok := v.streams[key]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Keys returns the sorted list of known streams.
func (v *Validator) Keys() []string {
	keys := make([]string, 0, len(v.streams))
	for k := range v.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resync forgets the state of stream key.
// The next timestamp primes the stream again and its zero tolerance budget
// is refilled.
func (v *Validator) Resync(key string) {
	delete(v.streams, key)
}

// ResyncAll forgets the state of all streams.
func (v *Validator) ResyncAll() {
	v.streams = make(map[string]*State)
}

// Stats returns the validator statistics.
func (v *Validator) Stats() Stats { return v.stats }
