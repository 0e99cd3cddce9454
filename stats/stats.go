// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats summarises counts streams.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kortschak/counts/counts"
)

// Summary is a length-weighted summary of a counts stream.
type Summary struct {
	Transitions int

	// Extent is the position after the
	// last transition.
	Extent uint64

	// Covered is the number of positions
	// with a non-zero count.
	Covered uint64

	Max    int64
	Mean   float64
	StdDev float64
	Median float64
}

// Summarize drains src and returns a summary of its counts weighted by
// transition length.
func Summarize(src counts.Source) (Summary, error) {
	var (
		s       Summary
		x, w    []float64
		weights = make(map[int64]float64)
	)
	for src.HasNext() {
		err := src.Next()
		if err != nil {
			return s, err
		}
		c := src.Count()
		l := src.Length()
		s.Transitions++
		s.Extent = src.Position() + uint64(l)
		if c > 0 {
			s.Covered += uint64(l)
		}
		s.Max = max(s.Max, c)
		weights[c] += float64(l)
	}
	err := src.Err()
	if err != nil {
		return s, err
	}
	if len(weights) == 0 {
		return s, nil
	}

	for c := range weights {
		x = append(x, float64(c))
	}
	sort.Float64s(x)
	w = make([]float64, len(x))
	for i, c := range x {
		w[i] = weights[int64(c)]
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, w)
	if len(x) == 1 {
		s.StdDev = 0
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, x, w)
	return s, nil
}
