// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package counts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Reader decodes a stream written by a Writer. A nil *Reader is a valid
// empty stream; this is how a reference without counts is represented.
type Reader struct {
	r *byteReader
	c io.Closer

	// Current transition.
	position uint64
	length   uint32
	count    int64
	delta    int64
	started  bool

	// Transition loaded by HasNext but not yet consumed by Next.
	loaded      bool
	nextCount   int64
	nextDelta   int64
	nextLength  uint32
	endOfStream bool

	err error
}

var _ Source = (*Reader)(nil)

// NewReader returns a Reader that decodes transitions from r. If r is an
// io.Closer, it is closed by Close.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	c, _ := r.(io.Closer)
	return &Reader{r: &byteReader{r: br}, c: c}
}

// HasNext returns whether a call to Next will succeed.
func (r *Reader) HasNext() bool {
	if r == nil {
		return false
	}
	if r.loaded {
		return true
	}
	if r.endOfStream || r.err != nil {
		return false
	}
	d, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.err = r.r.corrupt(err)
		return false
	}
	l, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.err = r.r.corrupt(err)
		return false
	}
	if l == 0 {
		r.endOfStream = true
		return false
	}
	if l > uint64(^uint32(0)) {
		r.err = fmt.Errorf("%w: run length %d overflows", ErrArchiveCorrupt, l)
		return false
	}
	r.nextDelta = unzigzag(d)
	r.nextCount = r.count + r.nextDelta
	if r.nextCount < 0 {
		r.err = fmt.Errorf("%w: negative count %d", ErrArchiveCorrupt, r.nextCount)
		return false
	}
	r.nextLength = uint32(l)
	r.loaded = true
	return true
}

// Next advances to the next transition. It returns ErrEndOfStream if
// there are no more transitions, or the decoding error that ended the
// stream.
func (r *Reader) Next() error {
	if !r.HasNext() {
		if r != nil && r.err != nil {
			return r.err
		}
		return ErrEndOfStream
	}
	if r.started {
		r.position += uint64(r.length)
	}
	r.started = true
	r.loaded = false
	r.length = r.nextLength
	r.count = r.nextCount
	r.delta = r.nextDelta
	return nil
}

// Position returns the start of the current transition.
func (r *Reader) Position() uint64 {
	if r == nil {
		return 0
	}
	return r.position
}

// Length returns the length of the current transition.
func (r *Reader) Length() uint32 {
	if r == nil {
		return 0
	}
	return r.length
}

// Count returns the count of the current transition.
func (r *Reader) Count() int64 {
	if r == nil {
		return 0
	}
	return r.count
}

// DeltaCount returns the difference between the count of the current
// transition and the count of the previous one. The first transition is
// relative to zero.
func (r *Reader) DeltaCount() int64 {
	if r == nil {
		return 0
	}
	return r.delta
}

// Transition returns the current transition.
func (r *Reader) Transition() Transition {
	return Transition{Position: r.Position(), Length: r.Length(), Count: r.Count()}
}

// SkipTo advances the Reader until the current transition covers position
// or starts after it. It returns false if the stream ends first.
func (r *Reader) SkipTo(position uint64) bool {
	if r != nil && r.started && r.position+uint64(r.length) > position {
		return true
	}
	for r.HasNext() {
		if r.Next() != nil {
			return false
		}
		if r.position+uint64(r.length) > position {
			return true
		}
	}
	return false
}

// Err returns the first decoding error encountered by the Reader.
func (r *Reader) Err() error {
	if r == nil {
		return nil
	}
	return r.err
}

// Close closes the underlying reader if it is an io.Closer.
func (r *Reader) Close() error {
	if r == nil || r.c == nil {
		return nil
	}
	return r.c.Close()
}

// byteReader records errors from the underlying reader so that I/O
// failures can be told apart from malformed varints.
type byteReader struct {
	r   io.ByteReader
	err error
}

func (b *byteReader) ReadByte() (byte, error) {
	c, err := b.r.ReadByte()
	if err != nil && b.err == nil {
		b.err = err
	}
	return c, err
}

// corrupt converts a varint decoding failure into ErrArchiveCorrupt. The
// stream is always terminated by a marker, so running out of data is a
// truncation. Other errors from the underlying reader are returned as is.
func (b *byteReader) corrupt(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated stream", ErrArchiveCorrupt)
	}
	if b.err != nil {
		return b.err
	}
	return fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
}
