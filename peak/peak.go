// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package peak finds maximal intervals of a counts stream where the count
// meets a detection threshold.
package peak

import (
	"errors"

	"github.com/kortschak/counts/counts"
)

// ErrThresholdNotSet is returned when an Aggregator is used before its
// threshold has been set.
var ErrThresholdNotSet = errors.New("peak: threshold not set")

// Peak is a maximal interval where the count of a stream is at least
// the detection threshold.
type Peak struct {
	Start  uint64
	Length uint64

	// Count is the maximum count
	// within the peak.
	Count int64
}

// End returns the position immediately after the peak.
func (p Peak) End() uint64 { return p.Start + p.Length }

// Aggregator converts a counts.Source, typically a merge.Iterator, into
// a sequence of Peaks. Positions not covered by the source have a count
// of zero.
type Aggregator struct {
	src counts.Source

	threshold    int64
	thresholdSet bool

	// State of the open peak.
	inside bool
	start  uint64
	end    uint64
	max    int64

	// last is the end of the last
	// interval read from src.
	last uint64

	pending []Peak
	err     error
}

// New returns an Aggregator reading from src. SetThreshold must be called
// before peaks are read.
func New(src counts.Source) *Aggregator {
	return &Aggregator{src: src}
}

// SetThreshold sets the inclusive detection threshold.
func (a *Aggregator) SetThreshold(t int64) {
	a.threshold = t
	a.thresholdSet = true
}

// Threshold returns the detection threshold and whether it has been set.
func (a *Aggregator) Threshold() (int64, bool) {
	return a.threshold, a.thresholdSet
}

// step feeds [pos, end) holding count through the state machine.
func (a *Aggregator) step(pos, end uint64, count int64) {
	if count >= a.threshold {
		if !a.inside {
			a.inside = true
			a.start = pos
			a.max = count
		}
		a.max = max(a.max, count)
		a.end = end
		return
	}
	if a.inside {
		a.emit()
	}
}

func (a *Aggregator) emit() {
	a.pending = append(a.pending, Peak{Start: a.start, Length: a.end - a.start, Count: a.max})
	a.inside = false
}

// HasNext returns whether a call to Next will succeed.
func (a *Aggregator) HasNext() bool {
	if !a.thresholdSet {
		return false
	}
	for len(a.pending) == 0 {
		if a.err != nil || a.src == nil {
			return false
		}
		if !a.src.HasNext() {
			a.err = a.src.Err()
			if a.err != nil {
				return false
			}
			if !a.inside {
				return false
			}
			a.emit()
			break
		}
		a.err = a.src.Next()
		if a.err != nil {
			return false
		}
		pos := a.src.Position()
		end := pos + uint64(a.src.Length())
		if pos > a.last {
			a.step(a.last, pos, 0)
		}
		a.step(pos, end, a.src.Count())
		a.last = max(a.last, end)
	}
	return true
}

// Next returns the next peak. It returns counts.ErrEndOfStream when the
// source is exhausted.
func (a *Aggregator) Next() (Peak, error) {
	if !a.HasNext() {
		err := a.Err()
		if err == nil {
			err = counts.ErrEndOfStream
		}
		return Peak{}, err
	}
	p := a.pending[0]
	a.pending = a.pending[1:]
	return p, nil
}

// All returns the remaining peaks.
func (a *Aggregator) All() ([]Peak, error) {
	var peaks []Peak
	for a.HasNext() {
		p, err := a.Next()
		if err != nil {
			return peaks, err
		}
		peaks = append(peaks, p)
	}
	return peaks, a.Err()
}

// Err returns the first error encountered by the Aggregator or its
// source.
func (a *Aggregator) Err() error {
	if !a.thresholdSet {
		return ErrThresholdNotSet
	}
	return a.err
}

// Close closes the source.
func (a *Aggregator) Close() error {
	if a.src == nil {
		return nil
	}
	return a.src.Close()
}
