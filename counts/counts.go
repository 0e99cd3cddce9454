// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package counts provides a run-length transition codec for per-position
// integer signal over a reference sequence, such as read depth.
//
// A stream is a sequence of transitions, each describing a run of positions
// holding the same count. Streams start at position zero and are contiguous:
// the position of each transition is the sum of the lengths of the transitions
// before it. The encoding is proportional to the number of changes in the
// signal, not to the length of the reference.
package counts

import "errors"

var (
	// ErrInvalidRunLength is returned when a transition with a zero
	// length is written.
	ErrInvalidRunLength = errors.New("counts: invalid run length")

	// ErrNegativeCount is returned when a negative count is written.
	ErrNegativeCount = errors.New("counts: negative count")

	// ErrStreamClosed is returned when writing to a closed stream.
	ErrStreamClosed = errors.New("counts: write to closed stream")

	// ErrEndOfStream is returned when advancing past the last transition.
	ErrEndOfStream = errors.New("counts: end of stream")

	// ErrNonMonotonicWrite is returned when a write is out of order, either
	// by position within a stream or by reference index within an archive.
	ErrNonMonotonicWrite = errors.New("counts: non-monotonic write")

	// ErrArchiveCorrupt is returned when encoded data is truncated or
	// malformed.
	ErrArchiveCorrupt = errors.New("counts: corrupt data")
)

// Transition is a maximal run of Length positions starting at Position
// that all hold Count.
type Transition struct {
	Position uint64
	Length   uint32
	Count    int64
}

// End returns the position immediately after the run.
func (t Transition) End() uint64 { return t.Position + uint64(t.Length) }

// Source is a forward-only sequence of transitions.
//
// HasNext reports whether a call to Next will succeed. After a successful
// call to Next, Position, Length and Count describe the current transition.
// Err returns the first non-EOF error encountered by the Source.
type Source interface {
	HasNext() bool
	Next() error
	Position() uint64
	Length() uint32
	Count() int64
	Err() error
	Close() error
}

// Collect drains src, returning its transitions.
func Collect(src Source) ([]Transition, error) {
	var t []Transition
	for src.HasNext() {
		err := src.Next()
		if err != nil {
			return t, err
		}
		t = append(t, Transition{Position: src.Position(), Length: src.Length(), Count: src.Count()})
	}
	return t, src.Err()
}

// zigzag maps signed deltas onto unsigned values so that small magnitudes
// of either sign encode to short varints.
func zigzag(d int64) uint64 {
	return uint64(d<<1) ^ uint64(d>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
