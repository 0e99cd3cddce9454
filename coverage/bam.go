// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coverage

import (
	"errors"
	"fmt"
	"io"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/sirupsen/logrus"

	"github.com/kortschak/counts/archive"
)

// Options controls which alignment records contribute to coverage.
type Options struct {
	// Secondary and Duplicates include
	// secondary and duplicate alignments.
	Secondary  bool
	Duplicates bool

	// MinMapQ is the minimum mapping quality
	// of an included alignment.
	MinMapQ byte

	// Concurrency is the number of BGZF
	// decompression goroutines.
	Concurrency int
}

// Summary describes a BAM ingestion.
type Summary struct {
	References int
	Records    int
	Skipped    int
}

// ReadBAM reads BAM data from r and writes the coverage of each reference
// in the BAM header to w in reference order. References without
// alignments are written as empty streams.
func ReadBAM(r io.Reader, w *archive.Writer, opts Options) (Summary, error) {
	br, err := bam.NewReader(r, opts.Concurrency)
	if err != nil {
		return Summary{}, fmt.Errorf("coverage: reading bam: %w", err)
	}
	defer br.Close()

	var sum Summary
	builders := make(map[int]*Builder)
	for {
		rec, err := br.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("coverage: reading record: %w", err)
		}
		sum.Records++
		if !opts.include(rec) {
			sum.Skipped++
			continue
		}
		id := rec.Ref.ID()
		b, ok := builders[id]
		if !ok {
			b, err = NewBuilder()
			if err != nil {
				return sum, err
			}
			builders[id] = b
		}
		err = b.Add(rec.Start(), rec.End())
		if err != nil {
			return sum, fmt.Errorf("coverage: %s: %w", rec.Name, err)
		}
	}

	for _, ref := range br.Header().Refs() {
		cw, err := w.NewCountWriter(ref.ID(), ref.Name())
		if err != nil {
			return sum, err
		}
		b, ok := builders[ref.ID()]
		if ok {
			err = b.WriteTo(cw.Writer)
			if err != nil {
				return sum, fmt.Errorf("coverage: %s: %w", ref.Name(), err)
			}
		}
		err = w.ReturnWriter(cw)
		if err != nil {
			return sum, err
		}
		sum.References++
		logrus.WithFields(logrus.Fields{
			"reference":   ref.Name(),
			"index":       ref.ID(),
			"length":      ref.Len(),
			"transitions": cw.Transitions(),
		}).Debug("wrote coverage")
	}
	return sum, nil
}

func (o Options) include(rec *sam.Record) bool {
	switch {
	case rec.Ref == nil, rec.Flags&sam.Unmapped != 0:
		return false
	case rec.Flags&sam.Secondary != 0 && !o.Secondary:
		return false
	case rec.Flags&sam.Duplicate != 0 && !o.Duplicates:
		return false
	case rec.MapQ < o.MinMapQ:
		return false
	}
	return rec.End() > rec.Start()
}
