// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package annotation provides genomic segment consolidation and clustering,
// and reading and writing of tab-delimited and GFF annotations.
package annotation

import (
	"fmt"
	"slices"

	"github.com/kortschak/counts/peak"
)

// EitherStrand is the strand of segments that are not stranded, such as
// peaks called from unstranded coverage.
const EitherStrand = "either"

// Segment is a half-open interval on a chromosome.
type Segment struct {
	Start, End uint64

	ID     string
	Strand string
}

// Length returns the length of the segment.
func (s Segment) Length() uint64 { return s.End - s.Start }

func compareSegments(a, b Segment) int {
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	}
	switch {
	case a.End < b.End:
		return -1
	case a.End > b.End:
		return 1
	}
	return 0
}

// Annotation is a named group of segments on one chromosome.
type Annotation struct {
	ID         string
	Chromosome string
	Strand     string

	// Segments is sorted by start.
	Segments []Segment
}

// AddSegment inserts s into the annotation's segments, retaining start
// order.
func (a *Annotation) AddSegment(s Segment) {
	i, _ := slices.BinarySearchFunc(a.Segments, s, compareSegments)
	a.Segments = slices.Insert(a.Segments, i, s)
}

// Start returns the start of the first segment of the annotation.
func (a *Annotation) Start() uint64 {
	if len(a.Segments) == 0 {
		return 0
	}
	return a.Segments[0].Start
}

// End returns the greatest end of the annotation's segments.
func (a *Annotation) End() uint64 {
	var end uint64
	for _, s := range a.Segments {
		end = max(end, s.End)
	}
	return end
}

// MergeFunc returns whether next should be merged into current. It is
// called with current.Start <= next.Start.
type MergeFunc func(current, next Segment) bool

// Overlap merges segments that overlap or abut.
func Overlap(current, next Segment) bool {
	return next.Start <= current.End
}

// Within returns a MergeFunc that merges segments separated by no more
// than distance positions.
func Within(distance int64) MergeFunc {
	return func(current, next Segment) bool {
		if next.Start <= current.End {
			return true
		}
		return next.Start-current.End <= uint64(max(distance, 0))
	}
}

// Consolidate returns the union of segs under the merge rule. The
// returned segments are sorted and no pair of them satisfies merge.
// A merged segment takes its ID and strand from the first segment in
// the merge. segs is not modified.
func Consolidate(segs []Segment, merge MergeFunc) []Segment {
	if len(segs) == 0 {
		return nil
	}
	sorted := slices.Clone(segs)
	slices.SortStableFunc(sorted, compareSegments)

	out := []Segment{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if merge(*last, s) {
			last.End = max(last.End, s.End)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Cluster groups segs on chromosome into annotations. Segments are first
// consolidated by overlap and then grouped while the gap between a
// segment and the end of the group is no more than distance. Each
// annotation retains its member segments and is identified by the
// chromosome and the start and length of its first segment.
func Cluster(chromosome string, segs []Segment, distance int64) []*Annotation {
	segs = Consolidate(segs, Overlap)
	if len(segs) == 0 {
		return nil
	}
	near := Within(distance)

	var (
		annots []*Annotation
		end    uint64
	)
	for _, s := range segs {
		if len(annots) != 0 && near(Segment{End: end}, s) {
			last := annots[len(annots)-1]
			last.Segments = append(last.Segments, s)
			end = max(end, s.End)
			continue
		}
		annots = append(annots, &Annotation{
			ID:         name(chromosome, s),
			Chromosome: chromosome,
			Strand:     s.Strand,
			Segments:   []Segment{s},
		})
		end = s.End
	}
	return annots
}

// Singletons returns one annotation on chromosome for each segment. A
// segment without an ID takes the ID of its annotation.
func Singletons(chromosome string, segs []Segment) []*Annotation {
	annots := make([]*Annotation, len(segs))
	for i, s := range segs {
		id := name(chromosome, s)
		if s.ID == "" {
			s.ID = id
		}
		annots[i] = &Annotation{
			ID:         id,
			Chromosome: chromosome,
			Strand:     s.Strand,
			Segments:   []Segment{s},
		}
	}
	return annots
}

// Segments returns the unstranded segments covered by peaks.
func Segments(peaks []peak.Peak) []Segment {
	segs := make([]Segment, len(peaks))
	for i, p := range peaks {
		segs[i] = Segment{Start: p.Start, End: p.End(), Strand: EitherStrand}
	}
	return segs
}

// FromPeaks returns one annotation on chromosome for each peak.
func FromPeaks(chromosome string, peaks []peak.Peak) []*Annotation {
	return Singletons(chromosome, Segments(peaks))
}

func name(chromosome string, s Segment) string {
	return fmt.Sprintf("%s.%d.%d", chromosome, s.Start, s.Length())
}
