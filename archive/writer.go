// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/kortschak/counts/counts"
)

// Writer writes an archive. Streams must be written in strictly
// increasing reference index order and only one stream may be written
// at a time.
type Writer struct {
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *zstd.Encoder

	offset uint64

	// expectedNext is the lowest reference index
	// that may be passed to NewCountWriter.
	expectedNext int
	names        map[string]bool
	entries      []Entry

	out    *CountWriter
	closed bool
}

// Create creates an archive for basename and suffix. Any existing archive
// with the same name is removed.
func Create(basename, suffix string) (*Writer, error) {
	path := Filename(basename, suffix)
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	w := &Writer{
		path:  path,
		f:     f,
		w:     bufio.NewWriter(f),
		enc:   enc,
		names: make(map[string]bool),
	}
	_, err = w.w.WriteString(magic)
	if err == nil {
		err = w.w.WriteByte(version)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	w.offset = uint64(headerLen)
	return w, nil
}

// CountWriter is a counts stream writer for one reference. It must be
// passed to ReturnWriter when complete.
type CountWriter struct {
	*counts.Writer

	index int
	name  string
	buf   *bytes.Buffer
	arch  *Writer
}

// Index returns the reference index of the stream.
func (w *CountWriter) Index() int { return w.index }

// Name returns the reference name of the stream.
func (w *CountWriter) Name() string { return w.name }

// NewCountWriter returns a writer for the reference with the given index
// and name. The index must be greater than the index of every stream
// previously written to the archive, and no greater than MaxIndex.
func (w *Writer) NewCountWriter(index int, name string) (*CountWriter, error) {
	if w.closed {
		return nil, ErrClosed
	}
	if w.out != nil {
		return nil, fmt.Errorf("%w: %s", ErrWriterOutstanding, w.out.name)
	}
	if index < w.expectedNext {
		return nil, fmt.Errorf("%w: reference index %d for %s, expected at least %d",
			counts.ErrNonMonotonicWrite, index, name, w.expectedNext)
	}
	if index > MaxIndex {
		return nil, fmt.Errorf("archive: reference index %d out of range", index)
	}
	if len(name) > math.MaxUint16 {
		return nil, fmt.Errorf("archive: reference name too long: %d bytes", len(name))
	}
	if w.names[name] {
		return nil, fmt.Errorf("archive: duplicate reference name %q", name)
	}
	w.expectedNext = index + 1
	w.names[name] = true
	var buf bytes.Buffer
	w.out = &CountWriter{
		Writer: counts.NewWriter(&buf),
		index:  index,
		name:   name,
		buf:    &buf,
		arch:   w,
	}
	return w.out, nil
}

// ReturnWriter closes cw, and compresses and registers its stream in the
// archive.
func (w *Writer) ReturnWriter(cw *CountWriter) error {
	if w.closed {
		return ErrClosed
	}
	if cw == nil || cw.arch != w || cw != w.out {
		return errors.New("archive: returned writer not outstanding")
	}
	w.out = nil
	err := cw.Close()
	if err != nil {
		return err
	}
	block := w.enc.EncodeAll(cw.buf.Bytes(), nil)
	_, err = w.w.Write(block)
	if err != nil {
		return err
	}
	w.entries = append(w.entries, Entry{
		Index:       cw.index,
		Name:        cw.name,
		Offset:      w.offset,
		Size:        uint64(len(block)),
		Transitions: uint64(cw.Transitions()),
		Extent:      cw.Position(),
	})
	w.offset += uint64(len(block))
	logrus.WithFields(logrus.Fields{
		"reference":   cw.name,
		"index":       cw.index,
		"transitions": cw.Transitions(),
		"bytes":       len(block),
	}).Debug("wrote reference")
	return nil
}

// Close writes the archive index and closes the file. An outstanding
// count writer is returned before the index is written.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	var err error
	if w.out != nil {
		err = w.ReturnWriter(w.out)
	}
	w.closed = true
	defer w.enc.Close()
	if err != nil {
		w.f.Close()
		return err
	}

	_, err = w.w.Write(marshalIndex(w.entries, w.offset))
	if err == nil {
		err = w.w.Flush()
	}
	if err != nil {
		w.f.Close()
		return err
	}
	logrus.WithFields(logrus.Fields{
		"archive":    w.path,
		"references": len(w.entries),
	}).Debug("closed archive")
	return w.f.Close()
}

func marshalIndex(entries []Entry, offset uint64) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, uint32(len(entries)))
	for _, e := range entries {
		b = binary.LittleEndian.AppendUint32(b, uint32(e.Index))
		b = binary.LittleEndian.AppendUint16(b, uint16(len(e.Name)))
		b = append(b, e.Name...)
		b = binary.LittleEndian.AppendUint64(b, e.Offset)
		b = binary.LittleEndian.AppendUint64(b, e.Size)
		b = binary.LittleEndian.AppendUint64(b, e.Transitions)
		b = binary.LittleEndian.AppendUint64(b, e.Extent)
	}
	b = binary.LittleEndian.AppendUint64(b, offset)
	return append(b, magic...)
}
