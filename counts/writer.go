// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package counts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Writer encodes a single stream of transitions.
type Writer struct {
	w      *bufio.Writer
	closed bool

	previous    int64
	position    uint64
	transitions int
	bytes       int

	buf [2 * binary.MaxVarintLen64]byte
}

// NewWriter returns a Writer that writes an encoded stream to w. The
// stream is not complete until Close has been called.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends a run of length positions holding count at the current
// position of the stream.
func (w *Writer) Write(count int64, length uint32) error {
	if w.closed {
		return ErrStreamClosed
	}
	if length == 0 {
		return ErrInvalidRunLength
	}
	if count < 0 {
		return fmt.Errorf("%w: %d at position %d", ErrNegativeCount, count, w.position)
	}
	n := binary.PutUvarint(w.buf[:], zigzag(count-w.previous))
	n += binary.PutUvarint(w.buf[n:], uint64(length))
	_, err := w.w.Write(w.buf[:n])
	if err != nil {
		return err
	}
	w.bytes += n
	w.previous = count
	w.position += uint64(length)
	w.transitions++
	return nil
}

// WriteAt appends a run starting at position. If position is beyond the
// current position of the stream, the gap is filled with a run of zero
// count.
func (w *Writer) WriteAt(position uint64, count int64, length uint32) error {
	if w.closed {
		return ErrStreamClosed
	}
	if position < w.position {
		return fmt.Errorf("%w: position %d before %d", ErrNonMonotonicWrite, position, w.position)
	}
	for gap := position - w.position; gap != 0; {
		n := uint32(min(gap, uint64(^uint32(0))))
		err := w.Write(0, n)
		if err != nil {
			return err
		}
		gap -= uint64(n)
	}
	return w.Write(count, length)
}

// Position returns the position that the next written transition will
// start at.
func (w *Writer) Position() uint64 { return w.position }

// Transitions returns the number of transitions written.
func (w *Writer) Transitions() int { return w.transitions }

// Bytes returns the number of encoded bytes written, including the end
// marker once the Writer is closed.
func (w *Writer) Bytes() int { return w.bytes }

// Close writes the end of stream marker and flushes the stream. It does
// not close the underlying io.Writer. Close may be called more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	// A zero length run marks the end of the stream.
	_, err := w.w.Write([]byte{0, 0})
	if err != nil {
		return err
	}
	w.bytes += 2
	return w.w.Flush()
}
