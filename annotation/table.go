// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package annotation

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
)

// Header is the first line of a tab-delimited annotation file.
const Header = "Chromosome_Name\tStrand\tPrimary_ID\tSecondary_ID\tTranscript_Start\tTranscript_End"

// Writer writes annotations as tab-delimited rows, one row per segment.
type Writer struct {
	w *bufio.Writer
	c io.Closer
}

// NewWriter returns a Writer writing to w. If header is true the column
// header is written first.
func NewWriter(w io.Writer, header bool) (*Writer, error) {
	aw := &Writer{w: bufio.NewWriter(w)}
	if header {
		_, err := aw.w.WriteString(Header + "\n")
		if err != nil {
			return nil, err
		}
	}
	return aw, nil
}

// Create opens the annotation file at path for appending. If the file
// does not exist it is created and the column header is written.
func Create(path string) (*Writer, error) {
	_, err := os.Stat(path)
	isNew := errors.Is(err, fs.ErrNotExist)
	if err != nil && !isNew {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, isNew)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.c = f
	return w, nil
}

// Write writes a row for each segment of a.
func (w *Writer) Write(a *Annotation) error {
	for _, s := range a.Segments {
		strand := s.Strand
		if strand == "" {
			strand = a.Strand
		}
		_, err := fmt.Fprintf(w.w, "%s\t%s\t%s\t%s\t%d\t%d\n", a.Chromosome, strand, a.ID, s.ID, s.Start, s.End)
		if err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes buffered rows to the underlying writer.
func (w *Writer) Flush() error { return w.w.Flush() }

// Close flushes the Writer and closes the file if it was opened by
// Create.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if w.c != nil {
		cerr := w.c.Close()
		if err == nil {
			err = cerr
		}
	}
	return err
}

// Read reads tab-delimited annotations from r. Rows with the same
// chromosome and primary ID are grouped into one annotation. The header line and lines starting
// with '#' are skipped. The returned annotations are grouped by chromosome
// and sorted by start.
func Read(r io.Reader) (map[string][]*Annotation, error) {
	const (
		chromosome = iota
		strand
		primary
		secondary
		start
		end
		numFields
	)

	var order []*Annotation
	byID := make(map[string]*Annotation)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 || bytes.HasPrefix(line, []byte("#")) {
			continue
		}
		if n == 1 && string(line) == Header {
			continue
		}
		f := bytes.Split(line, []byte("\t"))
		if len(f) < numFields {
			return nil, fmt.Errorf("annotation: unexpected number of fields in line %d: %q", n, line)
		}
		s := Segment{
			ID:     string(f[secondary]),
			Strand: string(f[strand]),
		}
		var err error
		s.Start, err = strconv.ParseUint(string(bytes.TrimSpace(f[start])), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("annotation: error in line %d: %w", n, err)
		}
		s.End, err = strconv.ParseUint(string(bytes.TrimSpace(f[end])), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("annotation: error in line %d: %w", n, err)
		}
		if s.End < s.Start {
			return nil, fmt.Errorf("annotation: inverted segment in line %d: %d > %d", n, s.Start, s.End)
		}

		id := string(f[primary])
		chrom := string(f[chromosome])
		key := chrom + "\x00" + id
		a, ok := byID[key]
		if !ok {
			a = &Annotation{ID: id, Chromosome: chrom, Strand: s.Strand}
			byID[key] = a
			order = append(order, a)
		}
		a.AddSegment(s)
	}
	err := sc.Err()
	if err != nil {
		return nil, err
	}

	annots := make(map[string][]*Annotation)
	for _, a := range order {
		annots[a.Chromosome] = append(annots[a.Chromosome], a)
	}
	for _, list := range annots {
		slices.SortStableFunc(list, func(a, b *Annotation) int {
			switch {
			case a.Start() < b.Start():
				return -1
			case a.Start() > b.Start():
				return 1
			}
			return 0
		})
	}
	return annots, nil
}

// ReadFile reads the tab-delimited annotation file at path.
func ReadFile(path string) (map[string][]*Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
