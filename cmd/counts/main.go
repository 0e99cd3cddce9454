// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// counts builds a counts archive from the alignments in a BAM file. Each
// reference in the BAM header is written to the archive as a stream of
// coverage transitions, with references without alignments written as
// empty streams.
//
// usage: counts -bam in.bam -out basename [-suffix counts]
package main

import (
	"flag"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/kortschak/counts/archive"
	"github.com/kortschak/counts/coverage"
)

func main() {
	in := flag.String("bam", "", "specify input BAM file (required)")
	out := flag.String("out", "", "specify output archive basename (required)")
	suffix := flag.String("suffix", archive.DefaultSuffix, "specify archive suffix")
	mapQ := flag.Uint("mapq", 0, "specify minimum mapping quality")
	secondary := flag.Bool("secondary", false, "specify to include secondary alignments")
	dups := flag.Bool("dups", false, "specify to include duplicate alignments")
	threads := flag.Int("cores", 0, "specify the number of BGZF decompression goroutines (<=0 is use all cores)")
	verbose := flag.Bool("verbose", false, "specify verbose logging")
	flag.Parse()

	if *in == "" || *out == "" || *mapQ > 255 {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *threads <= 0 {
		*threads = runtime.NumCPU()
	}

	logrus.WithField("args", os.Args).Info("starting")

	f, err := os.Open(*in)
	if err != nil {
		logrus.Fatal(err)
	}
	defer f.Close()

	w, err := archive.Create(*out, *suffix)
	if err != nil {
		logrus.Fatal(err)
	}
	sum, err := coverage.ReadBAM(f, w, coverage.Options{
		Secondary:   *secondary,
		Duplicates:  *dups,
		MinMapQ:     byte(*mapQ),
		Concurrency: *threads,
	})
	if err != nil {
		w.Close()
		logrus.Fatal(err)
	}
	err = w.Close()
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithFields(logrus.Fields{
		"archive":    archive.Filename(*out, *suffix),
		"references": sum.References,
		"records":    sum.Records,
		"skipped":    sum.Skipped,
	}).Info("wrote archive")
}
