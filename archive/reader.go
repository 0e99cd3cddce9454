// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/kortschak/counts/counts"
)

// Reader reads an archive. CountReader and CountReaderByName may be
// called concurrently.
type Reader struct {
	path string
	f    *os.File
	dec  *zstd.Decoder

	// entries is indexed by reference index;
	// absent references are nil.
	entries []*Entry
	names   map[string]int
	indices []int

	closed bool
}

// Open opens the archive for basename and suffix. It returns
// ErrArchiveNotFound if there is no such archive.
func Open(basename, suffix string) (*Reader, error) {
	path := Filename(basename, suffix)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
		}
		return nil, err
	}
	r, err := newReader(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"archive":    path,
		"references": len(r.indices),
	}).Debug("opened archive")
	return r, nil
}

func newReader(path string, f *os.File) (*Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < int64(headerLen+trailerLen) {
		return nil, fmt.Errorf("%w: %s: short file", counts.ErrArchiveCorrupt, path)
	}

	var head [headerLen]byte
	_, err = f.ReadAt(head[:], 0)
	if err != nil {
		return nil, err
	}
	if string(head[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: %s: bad magic", counts.ErrArchiveCorrupt, path)
	}
	if head[len(magic)] != version {
		return nil, fmt.Errorf("%w: %s: unknown version %d", counts.ErrArchiveCorrupt, path, head[len(magic)])
	}

	var tail [trailerLen]byte
	_, err = f.ReadAt(tail[:], size-trailerLen)
	if err != nil {
		return nil, err
	}
	if string(tail[8:]) != magic {
		return nil, fmt.Errorf("%w: %s: bad trailer", counts.ErrArchiveCorrupt, path)
	}
	indexOffset := binary.LittleEndian.Uint64(tail[:8])
	if indexOffset < uint64(headerLen) || indexOffset > uint64(size-trailerLen) {
		return nil, fmt.Errorf("%w: %s: index offset %d out of range", counts.ErrArchiveCorrupt, path, indexOffset)
	}
	index := make([]byte, uint64(size-trailerLen)-indexOffset)
	_, err = f.ReadAt(index, int64(indexOffset))
	if err != nil {
		return nil, err
	}

	entries, err := unmarshalIndex(index, indexOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", counts.ErrArchiveCorrupt, path, err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	r := &Reader{
		path:  path,
		f:     f,
		dec:   dec,
		names: make(map[string]int, len(entries)),
	}
	if len(entries) != 0 {
		r.entries = make([]*Entry, entries[len(entries)-1].Index+1)
	}
	for i := range entries {
		e := &entries[i]
		r.entries[e.Index] = e
		r.names[e.Name] = e.Index
		r.indices = append(r.indices, e.Index)
	}
	return r, nil
}

var errShortIndex = errors.New("short index")

func unmarshalIndex(b []byte, limit uint64) ([]Entry, error) {
	if len(b) < 4 {
		return nil, errShortIndex
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	// Each entry is at least 38 bytes.
	if uint64(n)*38 > uint64(len(b)) {
		return nil, errShortIndex
	}
	entries := make([]Entry, n)
	names := make(map[string]bool, n)
	prev := -1
	for i := range entries {
		if len(b) < 6 {
			return nil, errShortIndex
		}
		e := &entries[i]
		e.Index = int(binary.LittleEndian.Uint32(b))
		l := int(binary.LittleEndian.Uint16(b[4:]))
		b = b[6:]
		if len(b) < l+32 {
			return nil, errShortIndex
		}
		e.Name = string(b[:l])
		b = b[l:]
		e.Offset = binary.LittleEndian.Uint64(b)
		e.Size = binary.LittleEndian.Uint64(b[8:])
		e.Transitions = binary.LittleEndian.Uint64(b[16:])
		e.Extent = binary.LittleEndian.Uint64(b[24:])
		b = b[32:]

		if e.Index > MaxIndex {
			return nil, fmt.Errorf("reference index %d out of range", e.Index)
		}
		if e.Index <= prev {
			return nil, fmt.Errorf("reference index %d out of order", e.Index)
		}
		prev = e.Index
		if names[e.Name] {
			return nil, fmt.Errorf("duplicate reference name %q", e.Name)
		}
		names[e.Name] = true
		if e.Offset < uint64(headerLen) || e.Offset > limit || e.Size > limit-e.Offset {
			return nil, fmt.Errorf("stream for %s out of range", e.Name)
		}
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%d trailing bytes in index", len(b))
	}
	return entries, nil
}

// CountReader returns a reader for the stream of the reference with the
// given index. If the archive holds no stream for the reference, a nil
// reader and a nil error are returned. A nil *counts.Reader is an empty
// stream.
func (r *Reader) CountReader(index int) (*counts.Reader, error) {
	if index < 0 || index >= len(r.entries) || r.entries[index] == nil {
		return nil, nil
	}
	e := r.entries[index]
	block := make([]byte, e.Size)
	_, err := r.f.ReadAt(block, int64(e.Offset))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.Name, err)
	}
	data, err := r.dec.DecodeAll(block, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", counts.ErrArchiveCorrupt, e.Name, err)
	}
	return counts.NewReader(bytes.NewReader(data)), nil
}

// CountReaderByName returns a reader for the stream of the named
// reference. It behaves as CountReader for absent references.
func (r *Reader) CountReaderByName(name string) (*counts.Reader, error) {
	index, ok := r.names[name]
	if !ok {
		return nil, nil
	}
	return r.CountReader(index)
}

// Identifier returns the name of the reference with the given index and
// whether it is present in the archive.
func (r *Reader) Identifier(index int) (string, bool) {
	e := r.entry(index)
	if e == nil {
		return "", false
	}
	return e.Name, true
}

// IndexOf returns the index of the named reference and whether it is
// present in the archive.
func (r *Reader) IndexOf(name string) (int, bool) {
	index, ok := r.names[name]
	return index, ok
}

// Identifiers returns the names of the references in the archive in
// reference index order.
func (r *Reader) Identifiers() []string {
	names := make([]string, len(r.indices))
	for i, index := range r.indices {
		names[i] = r.entries[index].Name
	}
	return names
}

// Indices returns the reference indices present in the archive in
// increasing order.
func (r *Reader) Indices() []int {
	return append([]int(nil), r.indices...)
}

// Len returns the number of references in the archive.
func (r *Reader) Len() int { return len(r.indices) }

// Entry returns the index record for the reference with the given index.
func (r *Reader) Entry(index int) (Entry, bool) {
	e := r.entry(index)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Extent returns the position after the last transition of the stream
// for the reference with the given index.
func (r *Reader) Extent(index int) (uint64, bool) {
	e := r.entry(index)
	if e == nil {
		return 0, false
	}
	return e.Extent, true
}

func (r *Reader) entry(index int) *Entry {
	if index < 0 || index >= len(r.entries) {
		return nil
	}
	return r.entries[index]
}

// Path returns the file path of the archive.
func (r *Reader) Path() string { return r.path }

// Close closes the archive. Readers returned by CountReader remain valid.
// Close may be called more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.dec.Close()
	return r.f.Close()
}
