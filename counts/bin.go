// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package counts

// Binner summarises a Source over contiguous fixed size windows. It is
// used to produce low resolution views of a stream.
type Binner struct {
	src  Source
	size uint32

	// Next window start.
	next uint64

	// Unconsumed part of the current source transition.
	rem    Transition
	remEnd uint64
	hasRem bool

	loaded  bool
	start   uint64
	length  uint32
	average float64
	max     int64

	err error
}

var _ Source = (*Binner)(nil)

// NewBinner returns a Binner over src with windows of size positions.
// NewBinner panics if size is zero.
func NewBinner(src Source, size uint32) *Binner {
	if size == 0 {
		panic("counts: zero bin size")
	}
	return &Binner{src: src, size: size}
}

// HasNext returns whether a call to Next will succeed.
func (b *Binner) HasNext() bool {
	if b.loaded {
		return true
	}
	if b.err != nil {
		return false
	}
	start := b.next
	end := start + uint64(b.size)
	var (
		sum      float64
		sites    uint64
		max      int64
		last     = start
		consumed bool
	)
	for {
		if !b.hasRem {
			if !b.src.HasNext() {
				b.err = b.src.Err()
				break
			}
			err := b.src.Next()
			if err != nil {
				b.err = err
				return false
			}
			b.rem = Transition{Position: b.src.Position(), Length: b.src.Length(), Count: b.src.Count()}
			b.remEnd = b.rem.End()
			b.hasRem = true
		}
		if b.rem.Position >= end {
			consumed = true
			last = end
			break
		}
		pos := b.rem.Position
		if pos < start {
			pos = start
		}
		stop := b.remEnd
		if stop > end {
			stop = end
		}
		n := stop - pos
		if b.rem.Count > 0 {
			sum += float64(b.rem.Count) * float64(n)
			sites += n
		}
		if b.rem.Count > max {
			max = b.rem.Count
		}
		consumed = true
		last = stop
		if stop == b.remEnd {
			b.hasRem = false
		} else {
			b.rem.Position = stop
		}
		if stop == end {
			break
		}
	}
	if b.err != nil || !consumed {
		return false
	}
	b.start = start
	b.length = uint32(last - start)
	b.max = max
	b.average = 0
	if sites != 0 {
		b.average = sum / float64(sites)
	}
	b.next = last
	b.loaded = true
	return true
}

// Next advances to the next window.
func (b *Binner) Next() error {
	if !b.HasNext() {
		if b.err != nil {
			return b.err
		}
		return ErrEndOfStream
	}
	b.loaded = false
	return nil
}

// Position returns the start of the current window.
func (b *Binner) Position() uint64 { return b.start }

// Length returns the length of the current window. Only the final window
// may be shorter than the bin size.
func (b *Binner) Length() uint32 { return b.length }

// Count returns the integer part of the mean count over positions in the
// current window with a non-zero count.
func (b *Binner) Count() int64 { return int64(b.average) }

// Average returns the mean count over positions in the current window with
// a non-zero count.
func (b *Binner) Average() float64 { return b.average }

// Max returns the maximum count in the current window.
func (b *Binner) Max() int64 { return b.max }

// Err returns the first error encountered by the Binner or its source.
func (b *Binner) Err() error { return b.err }

// Close closes the underlying source.
func (b *Binner) Close() error { return b.src.Close() }
