// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store provides an on-disk ordered store of peak segments.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"

	"modernc.org/kv"
)

// SegmentKey identifies a segment called from a sample.
type SegmentKey struct {
	Chromosome string
	Start      uint64
	End        uint64
	Sample     string
}

var order = binary.BigEndian

// ByPosition is a kv compare function, ordering by chromosome name,
// segment position and sample name.
func ByPosition(x, y []byte) int {
	if bytes.Equal(x, y) {
		return 0
	}

	kx := UnmarshalSegmentKey(x)
	ky := UnmarshalSegmentKey(y)

	switch {
	case kx.Chromosome < ky.Chromosome:
		return -1
	case kx.Chromosome > ky.Chromosome:
		return 1
	}

	// Sort by left position, shorter segments first.
	switch {
	case kx.Start < ky.Start:
		return -1
	case kx.Start > ky.Start:
		return 1
	}
	switch {
	case kx.End < ky.End:
		return -1
	case kx.End > ky.End:
		return 1
	}

	// Ensure key uniqueness.
	switch {
	case kx.Sample < ky.Sample:
		return -1
	case kx.Sample > ky.Sample:
		return 1
	}

	panic("unreachable")
}

// MarshalSegmentKey returns the store key encoding of k.
func MarshalSegmentKey(k SegmentKey) []byte {
	var (
		buf bytes.Buffer
		b   [8]byte
	)
	order.PutUint64(b[:], uint64(len(k.Chromosome)))
	buf.Write(b[:])
	buf.WriteString(k.Chromosome)
	order.PutUint64(b[:], k.Start)
	buf.Write(b[:])
	order.PutUint64(b[:], k.End)
	buf.Write(b[:])
	order.PutUint64(b[:], uint64(len(k.Sample)))
	buf.Write(b[:])
	buf.WriteString(k.Sample)
	return buf.Bytes()
}

// UnmarshalSegmentKey decodes a key written by MarshalSegmentKey.
func UnmarshalSegmentKey(data []byte) SegmentKey {
	var k SegmentKey
	n64 := binary.Size(uint64(0))
	n := order.Uint64(data[:n64])
	data = data[n64:]
	k.Chromosome = string(data[:n])
	data = data[n:]
	k.Start = order.Uint64(data[:n64])
	data = data[n64:]
	k.End = order.Uint64(data[:n64])
	data = data[n64:]
	n = order.Uint64(data[:n64])
	data = data[n64:]
	k.Sample = string(data[:n])
	return k
}

// MarshalInt returns a slice encoding n as an int64.
func MarshalInt(n int64) []byte {
	var buf [8]byte
	order.PutUint64(buf[:], uint64(n))
	return buf[:]
}

// Segments is a temporary on-disk store of segments ordered by
// ByPosition. Each segment holds a count.
type Segments struct {
	dir string
	db  *kv.DB
	n   int
}

// NewSegments returns a new segment store in a temporary directory
// within dir. If dir is empty, the default temporary directory is used.
// The directory is removed by Close.
func NewSegments(dir string) (*Segments, error) {
	dir, err := os.MkdirTemp(dir, "segments-")
	if err != nil {
		return nil, err
	}
	db, err := kv.Create(filepath.Join(dir, "segments.db"), &kv.Options{Compare: ByPosition})
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &Segments{dir: dir, db: db}, nil
}

// Put stores the segment k with its count. Storing a key that already
// exists replaces its count.
func (s *Segments) Put(k SegmentKey, count int64) error {
	err := s.db.Set(MarshalSegmentKey(k), MarshalInt(count))
	if err != nil {
		return err
	}
	s.n++
	return nil
}

// Len returns the number of Put calls made on the store.
func (s *Segments) Len() int { return s.n }

// Each calls fn on each segment in key order. Iteration stops at the
// first error returned by fn.
func (s *Segments) Each(fn func(k SegmentKey, count int64) error) error {
	it, err := s.db.SeekFirst()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	for {
		k, v, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		err = fn(UnmarshalSegmentKey(k), int64(order.Uint64(v)))
		if err != nil {
			return err
		}
	}
}

// Close closes the store and removes its files.
func (s *Segments) Close() error {
	err := s.db.Close()
	rerr := os.RemoveAll(s.dir)
	if err == nil {
		err = rerr
	}
	return err
}
