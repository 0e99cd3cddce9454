// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// peaks calls coverage peaks from one or more counts archives. By default
// the counts of all archives are summed and peaks are called on the
// combined coverage. With -union, peaks are called for each archive
// separately and the union of the peaks over all archives is reported.
//
// Peaks overlapping a segment in the -exclude annotation file are not
// reported. Output is a tab-delimited annotation file, or GFF with -gff.
//
// usage: peaks -in a -in b -threshold n -out peaks.tsv
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kortschak/counts/annotation"
	"github.com/kortschak/counts/archive"
	"github.com/kortschak/counts/internal/pipeline"
	"github.com/kortschak/counts/internal/store"
)

func main() {
	var (
		in        sliceValue
		threshold thresholdValue
	)
	flag.Var(&in, "in", "specify input archive basename (required - may be present more than once)")
	flag.Var(&threshold, "threshold", "specify inclusive peak threshold (required)")
	suffix := flag.String("suffix", archive.DefaultSuffix, "specify archive suffix")
	include := flag.String("include", "", "specify comma-separated references to process (default all)")
	union := flag.Bool("union", false, "specify to report the union of peaks called on each archive")
	exclude := flag.String("exclude", "", "specify annotation file of regions to exclude")
	gffOut := flag.Bool("gff", false, "specify GFF format for peak output")
	workers := flag.Int("workers", 0, "specify the number of references processed concurrently (<=0 is use all cores)")
	work := flag.String("work", "", "specify directory for temporary files")
	out := flag.String("out", "", "specify output file (required)")
	verbose := flag.Bool("verbose", false, "specify verbose logging")
	flag.Parse()

	if len(in) == 0 || !threshold.set || *out == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logrus.WithField("args", os.Args).Info("starting")

	archives := make([]*archive.Reader, 0, len(in))
	for _, base := range in {
		a, err := archive.Open(base, *suffix)
		if err != nil {
			logrus.Fatal(err)
		}
		defer a.Close()
		archives = append(archives, a)
	}

	var excl *annotation.Index
	if *exclude != "" {
		annots, err := annotation.ReadFile(*exclude)
		if err != nil {
			logrus.Fatal(err)
		}
		excl, err = annotation.NewIndex(annots)
		if err != nil {
			logrus.Fatal(err)
		}
		logrus.WithFields(logrus.Fields{
			"path":     *exclude,
			"segments": excl.Len(),
		}).Info("loaded exclusions")
	}

	w, err := create(*out, *gffOut)
	if err != nil {
		logrus.Fatal(err)
	}

	cfg := pipeline.Config{
		Threshold: threshold.n,
		Include:   includes(*include),
		Workers:   *workers,
	}
	ctx := context.Background()
	if *union {
		err = unionPeaks(ctx, cfg, archives, *work, excl, w)
	} else {
		err = sumPeaks(ctx, cfg, archives, excl, w)
	}
	cerr := w.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		logrus.Fatal(err)
	}
}

// annotationWriter is implemented by *annotation.Writer and gffWriter.
type annotationWriter interface {
	Write(*annotation.Annotation) error
	Close() error
}

func create(path string, gff bool) (annotationWriter, error) {
	if !gff {
		w, err := annotation.Create(path)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return gffWriter{GFFWriter: annotation.NewGFFWriter(f, "peaks", "peak"), c: f}, nil
}

type gffWriter struct {
	*annotation.GFFWriter
	c io.Closer
}

func (w gffWriter) Close() error { return w.c.Close() }

// sumPeaks writes the peaks called on the summed counts of archives.
func sumPeaks(ctx context.Context, cfg pipeline.Config, archives []*archive.Reader, excl *annotation.Index, w annotationWriter) error {
	return pipeline.Peaks(ctx, cfg, archives, pipeline.References(archives...), func(res pipeline.Result) error {
		name := res.Reference.Name
		if res.Err != nil {
			logrus.WithField("reference", name).WithError(res.Err).Warn("skipping corrupt reference")
			return nil
		}
		segs := annotation.Segments(res.Peaks)
		if excl != nil {
			segs = excl.Exclude(name, segs)
		}
		logrus.WithFields(logrus.Fields{
			"reference": name,
			"peaks":     len(res.Peaks),
			"kept":      len(segs),
		}).Info("called peaks")
		return write(w, annotation.Singletons(name, segs))
	})
}

// unionPeaks calls peaks on each archive separately and writes the
// union of the peaks over all archives.
func unionPeaks(ctx context.Context, cfg pipeline.Config, archives []*archive.Reader, dir string, excl *annotation.Index, w annotationWriter) error {
	db, err := store.NewSegments(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, a := range archives {
		sample := a.Path()
		err = pipeline.Peaks(ctx, cfg, []*archive.Reader{a}, pipeline.References(a), func(res pipeline.Result) error {
			if res.Err != nil {
				logrus.WithFields(logrus.Fields{
					"reference": res.Reference.Name,
					"archive":   sample,
				}).WithError(res.Err).Warn("skipping corrupt reference")
				return nil
			}
			for _, p := range res.Peaks {
				err := db.Put(store.SegmentKey{
					Chromosome: res.Reference.Name,
					Start:      p.Start,
					End:        p.End(),
					Sample:     sample,
				}, p.Count)
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s: %w", sample, err)
		}
	}
	logrus.WithField("peaks", db.Len()).Info("collected peaks")

	var (
		chrom string
		segs  []annotation.Segment
	)
	flush := func() error {
		if len(segs) == 0 {
			return nil
		}
		u := annotation.Consolidate(segs, annotation.Overlap)
		if excl != nil {
			u = excl.Exclude(chrom, u)
		}
		logrus.WithFields(logrus.Fields{
			"reference": chrom,
			"peaks":     len(segs),
			"union":     len(u),
		}).Info("merged peaks")
		segs = segs[:0]
		return write(w, annotation.Singletons(chrom, u))
	}
	err = db.Each(func(k store.SegmentKey, _ int64) error {
		if k.Chromosome != chrom {
			err := flush()
			if err != nil {
				return err
			}
			chrom = k.Chromosome
		}
		segs = append(segs, annotation.Segment{Start: k.Start, End: k.End, Strand: annotation.EitherStrand})
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func write(w annotationWriter, annots []*annotation.Annotation) error {
	for _, a := range annots {
		err := w.Write(a)
		if err != nil {
			return err
		}
	}
	return nil
}

// includes returns the set of names in the comma-separated list s.
func includes(s string) map[string]bool {
	if s == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			set[name] = true
		}
	}
	return set
}

// sliceValue is a multi-value flag value.
type sliceValue []string

// Set adds the string to the sliceValue.
func (s *sliceValue) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// String satisfies the flag.Value interface.
func (s *sliceValue) String() string {
	return fmt.Sprintf("%q", []string(*s))
}

// thresholdValue is a non-negative count flag value that records
// whether it has been set.
type thresholdValue struct {
	n   int64
	set bool
}

var errNegativeThreshold = errors.New("negative threshold")

// Set parses v as the threshold.
func (t *thresholdValue) Set(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	if n < 0 {
		return errNegativeThreshold
	}
	t.n = n
	t.set = true
	return nil
}

// String satisfies the flag.Value interface.
func (t *thresholdValue) String() string {
	if t == nil || !t.set {
		return ""
	}
	return strconv.FormatInt(t.n, 10)
}
