// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package archive stores one counts stream per reference sequence in a
// single file addressed by a basename and a suffix.
//
// The file layout is a header holding a magic string and a version, a
// zstd frame for each reference stream in reference index order, and a
// trailing index mapping reference index and name to the location of the
// stream. The file ends with the offset of the index and the magic string.
// All fixed width fields are little-endian.
package archive

import (
	"errors"
	"fmt"
)

// DefaultSuffix is the suffix used when none is given.
const DefaultSuffix = "counts"

const (
	magic   = "GCNT"
	version = 1

	// Lengths of the fixed file header and
	// trailer. Both hold the 4 byte magic.
	headerLen  = 4 + 1
	trailerLen = 8 + 4
)

// MaxIndex is the largest reference index an archive can hold.
const MaxIndex = 1<<24 - 1

var (
	// ErrArchiveNotFound is returned by Open when there is no archive
	// for the basename and suffix.
	ErrArchiveNotFound = errors.New("archive: not found")

	// ErrWriterOutstanding is returned by NewCountWriter when the
	// previous count writer has not been returned.
	ErrWriterOutstanding = errors.New("archive: count writer outstanding")

	// ErrClosed is returned when using a closed archive writer.
	ErrClosed = errors.New("archive: closed")
)

// Filename returns the archive file name for basename and suffix. An empty
// suffix is replaced by DefaultSuffix.
func Filename(basename, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return fmt.Sprintf("%s.%s", basename, suffix)
}

// Entry is the index record for one reference stream.
type Entry struct {
	Index int
	Name  string

	// Offset and Size locate the compressed
	// stream within the archive file.
	Offset uint64
	Size   uint64

	// Transitions is the number of transitions
	// in the stream and Extent is the position
	// after the last transition.
	Transitions uint64
	Extent      uint64
}
