// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package annotation

import (
	"slices"

	"github.com/biogo/store/interval"
)

// Index is an interval index of annotation segments by chromosome.
type Index struct {
	trees map[string]*interval.IntTree
	uid   uintptr
}

// NewIndex returns an Index holding the segments of annots, which is
// keyed by chromosome as returned by Read.
func NewIndex(annots map[string][]*Annotation) (*Index, error) {
	idx := &Index{trees: make(map[string]*interval.IntTree)}
	for _, list := range annots {
		for _, a := range list {
			err := idx.insert(a)
			if err != nil {
				return nil, err
			}
		}
	}
	for _, t := range idx.trees {
		t.AdjustRanges()
	}
	return idx, nil
}

func (idx *Index) insert(a *Annotation) error {
	t, ok := idx.trees[a.Chromosome]
	if !ok {
		t = &interval.IntTree{}
		idx.trees[a.Chromosome] = t
	}
	for _, s := range a.Segments {
		idx.uid++
		err := t.Insert(segmentInterval{uid: idx.uid, Segment: s}, true)
		if err != nil {
			return err
		}
	}
	return nil
}

// Overlapping returns the indexed segments on chromosome that overlap
// the half-open interval [start, end), sorted by start.
func (idx *Index) Overlapping(chromosome string, start, end uint64) []Segment {
	t, ok := idx.trees[chromosome]
	if !ok || start >= end {
		return nil
	}
	var segs []Segment
	for _, e := range t.Get(query{Start: int(start), End: int(end)}) {
		segs = append(segs, e.(segmentInterval).Segment)
	}
	slices.SortFunc(segs, compareSegments)
	return segs
}

// Exclude returns the segments of segs on chromosome that do not overlap
// any indexed segment.
func (idx *Index) Exclude(chromosome string, segs []Segment) []Segment {
	var kept []Segment
	for _, s := range segs {
		if len(idx.Overlapping(chromosome, s.Start, s.End)) == 0 {
			kept = append(kept, s)
		}
	}
	return kept
}

// Len returns the number of indexed segments.
func (idx *Index) Len() int {
	var n int
	for _, t := range idx.trees {
		n += t.Len()
	}
	return n
}

type segmentInterval struct {
	uid uintptr
	Segment
}

// Overlap returns whether the half-open interval b overlaps s.
func (s segmentInterval) Overlap(b interval.IntRange) bool {
	return b.Start < int(s.End) && int(s.Start) < b.End
}
func (s segmentInterval) ID() uintptr { return s.uid }
func (s segmentInterval) Range() interval.IntRange {
	return interval.IntRange{Start: int(s.Start), End: int(s.End)}
}

type query interval.IntRange

func (q query) Overlap(b interval.IntRange) bool {
	return b.Start < q.End && q.Start < b.End
}
