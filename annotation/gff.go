// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package annotation

import (
	"io"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"
)

// GFFWriter writes annotation segments as GFF features.
type GFFWriter struct {
	w       *gff.Writer
	source  string
	feature string
}

// NewGFFWriter returns a GFFWriter writing features with the given source
// and feature type to w.
func NewGFFWriter(w io.Writer, source, feature string) *GFFWriter {
	return &GFFWriter{
		w:       gff.NewWriter(w, 60, true),
		source:  source,
		feature: feature,
	}
}

// Write writes a feature for each segment of a.
func (w *GFFWriter) Write(a *Annotation) error {
	for _, s := range a.Segments {
		st := s.Strand
		if st == "" {
			st = a.Strand
		}
		attrs := gff.Attributes{{Tag: "Annotation", Value: a.ID}}
		if s.ID != "" && s.ID != a.ID {
			attrs = append(attrs, gff.Attribute{Tag: "Segment", Value: s.ID})
		}
		_, err := w.w.Write(&gff.Feature{
			SeqName:        a.Chromosome,
			Source:         w.source,
			Feature:        w.feature,
			FeatStart:      int(s.Start),
			FeatEnd:        int(s.End),
			FeatStrand:     strand(st),
			FeatFrame:      gff.NoFrame,
			FeatAttributes: attrs,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func strand(s string) seq.Strand {
	switch s {
	case "+":
		return seq.Plus
	case "-":
		return seq.Minus
	default:
		return seq.None
	}
}
