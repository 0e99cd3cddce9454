// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package merge walks several counts streams for the same reference in
// lock-step.
package merge

import (
	"math"

	"github.com/kortschak/counts/counts"
)

// MergedInterval is a run of positions within which no merged stream has
// a transition. Intervals are bounded by source transitions, not by
// changes in value, so adjacent intervals may hold equal counts.
type MergedInterval struct {
	Position uint64
	Length   uint32

	// Counts holds the count of each
	// stream in input order.
	Counts []int64
}

// End returns the position immediately after the interval.
func (m MergedInterval) End() uint64 { return m.Position + uint64(m.Length) }

// stream is the transition in effect for one input.
type stream struct {
	src counts.Source

	start, end uint64
	count      int64

	// done is true when the source has no
	// more transitions; the stream then
	// holds zero.
	done bool
}

// Iterator merges a set of counts.Source into a sequence of intervals
// bounded by the transitions of every source. Sources that are
// exhausted, or nil, hold zero. Iteration ends when all sources are
// exhausted.
type Iterator struct {
	streams []stream
	pos     uint64

	loaded   bool
	position uint64
	length   uint32
	counts   []int64
	sum      int64

	next    []int64
	nextSum int64
	nextPos uint64
	nextLen uint32

	err error
}

var _ counts.Source = (*Iterator)(nil)

// New returns an Iterator over srcs. A nil source, including a nil
// *counts.Reader, is a stream of zero.
func New(srcs ...counts.Source) *Iterator {
	it := &Iterator{
		streams: make([]stream, len(srcs)),
		counts:  make([]int64, len(srcs)),
		next:    make([]int64, len(srcs)),
	}
	for i, src := range srcs {
		it.streams[i].src = src
		if src == nil {
			it.streams[i].done = true
		}
	}
	return it
}

// advance loads the next transition of stream i that ends after the
// current position.
func (it *Iterator) advance(i int) {
	s := &it.streams[i]
	for !s.done && s.end <= it.pos {
		if !s.src.HasNext() {
			s.done = true
			s.count = 0
			if err := s.src.Err(); err != nil && it.err == nil {
				it.err = err
			}
			return
		}
		err := s.src.Next()
		if err != nil {
			s.done = true
			s.count = 0
			if it.err == nil {
				it.err = err
			}
			return
		}
		s.start = s.src.Position()
		s.end = s.start + uint64(s.src.Length())
		s.count = s.src.Count()
	}
}

// HasNext returns whether a call to Next will succeed.
func (it *Iterator) HasNext() bool {
	if it.loaded {
		return true
	}
	if it.err != nil {
		return false
	}
	for i := range it.streams {
		it.advance(i)
	}
	if it.err != nil {
		return false
	}

	boundary := uint64(math.MaxUint64)
	live := false
	for i := range it.streams {
		s := &it.streams[i]
		if s.done {
			continue
		}
		live = true
		b := s.end
		if it.pos < s.start {
			// Leading gap before the first
			// transition of this stream.
			b = s.start
		}
		boundary = min(boundary, b)
	}
	if !live {
		return false
	}
	if boundary-it.pos > math.MaxUint32 {
		boundary = it.pos + math.MaxUint32
	}

	it.nextSum = 0
	for i := range it.streams {
		s := &it.streams[i]
		c := s.count
		if s.done || it.pos < s.start {
			c = 0
		}
		it.next[i] = c
		it.nextSum += c
	}
	it.nextPos = it.pos
	it.nextLen = uint32(boundary - it.pos)
	it.pos = boundary
	it.loaded = true
	return true
}

// Next advances to the next interval. It returns counts.ErrEndOfStream
// when all sources are exhausted, or the first error from a source.
func (it *Iterator) Next() error {
	if !it.HasNext() {
		if it.err != nil {
			return it.err
		}
		return counts.ErrEndOfStream
	}
	it.loaded = false
	it.position = it.nextPos
	it.length = it.nextLen
	it.sum = it.nextSum
	it.counts, it.next = it.next, it.counts
	return nil
}

// Position returns the start of the current interval.
func (it *Iterator) Position() uint64 { return it.position }

// Length returns the length of the current interval.
func (it *Iterator) Length() uint32 { return it.length }

// Count returns the sum of the counts of all streams over the current
// interval.
func (it *Iterator) Count() int64 { return it.sum }

// CountOf returns the count of stream i over the current interval.
func (it *Iterator) CountOf(i int) int64 { return it.counts[i] }

// Counts returns the count of each stream over the current interval. The
// returned slice is only valid until the next call to Next.
func (it *Iterator) Counts() []int64 { return it.counts }

// Interval returns the current interval.
func (it *Iterator) Interval() MergedInterval {
	return MergedInterval{
		Position: it.position,
		Length:   it.length,
		Counts:   append([]int64(nil), it.counts...),
	}
}

// Len returns the number of merged streams.
func (it *Iterator) Len() int { return len(it.streams) }

// Err returns the first error from any source.
func (it *Iterator) Err() error { return it.err }

// Close closes all sources, returning the first error.
func (it *Iterator) Close() error {
	var err error
	for _, s := range it.streams {
		if s.src == nil {
			continue
		}
		cerr := s.src.Close()
		if err == nil {
			err = cerr
		}
	}
	return err
}

// Collect drains it, returning its intervals.
func Collect(it *Iterator) ([]MergedInterval, error) {
	var m []MergedInterval
	for it.HasNext() {
		err := it.Next()
		if err != nil {
			return m, err
		}
		m = append(m, it.Interval())
	}
	return m, it.Err()
}
