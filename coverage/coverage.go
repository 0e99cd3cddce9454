// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coverage builds counts streams from alignment intervals.
package coverage

import (
	"fmt"
	"math"

	"github.com/biogo/store/step"

	"github.com/kortschak/counts/counts"
)

// depth is the number of intervals covering a position.
type depth int64

func (d depth) Equal(e step.Equaler) bool {
	return d == e.(depth)
}

// Builder accumulates the depth of a set of intervals over a reference.
type Builder struct {
	v *step.Vector
	n int
}

// NewBuilder returns an empty Builder.
func NewBuilder() (*Builder, error) {
	v, err := step.New(0, 1, depth(0))
	if err != nil {
		return nil, err
	}
	v.Relaxed = true
	return &Builder{v: v}, nil
}

// Add adds the half-open interval [start, end).
func (b *Builder) Add(start, end int) error {
	if start < 0 || end <= start {
		return fmt.Errorf("coverage: invalid interval [%d,%d)", start, end)
	}
	err := b.v.ApplyRange(start, end, func(e step.Equaler) step.Equaler {
		return e.(depth) + 1
	})
	if err != nil {
		return err
	}
	b.n++
	return nil
}

// Intervals returns the number of intervals added.
func (b *Builder) Intervals() int { return b.n }

// WriteTo writes the accumulated depth to w as transitions starting at
// position zero. Positions after the last covered position are not
// written. WriteTo does not close w.
func (b *Builder) WriteTo(w *counts.Writer) error {
	var err error
	b.v.Do(func(start, end int, e step.Equaler) {
		d := e.(depth)
		if err != nil || d == 0 {
			return
		}
		for start < end {
			n := min(end-start, math.MaxUint32)
			err = w.WriteAt(uint64(start), int64(d), uint32(n))
			if err != nil {
				return
			}
			start += n
		}
	})
	return err
}
