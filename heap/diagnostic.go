// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "fmt"

// Diagnostic describes a packet that could not be rebuilt into a heap.
// Header and Items hold what could be decoded before the failure.
type Diagnostic struct {
	Packet int   // index of the packet
	Start  int   // first cycle of the packet
	Kind   error // one of the Err... sentinel errors
	Err    error

	Header Header
	Items  []Item
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%v (packet=%d, cycle=%d)", d.Err, d.Packet, d.Start)
}

func (d *Diagnostic) Unwrap() error { return d.Err }
