// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// aggregate clusters the segments of an annotation file. Overlapping
// segments are merged and merged segments separated by no more than the
// clustering distance are grouped into a single annotation. Strands are
// clustered separately.
//
// usage: aggregate -in peaks.tsv -distance 100 -out clusters.tsv
package main

import (
	"flag"
	"os"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/kortschak/counts/annotation"
)

func main() {
	in := flag.String("in", "", "specify input annotation file (required)")
	distance := flag.Int64("distance", 0, "specify maximum distance between clustered segments")
	out := flag.String("out", "", "specify output annotation file (required)")
	verbose := flag.Bool("verbose", false, "specify verbose logging")
	flag.Parse()

	if *in == "" || *out == "" || *distance < 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	annots, err := annotation.ReadFile(*in)
	if err != nil {
		logrus.Fatal(err)
	}
	w, err := annotation.Create(*out)
	if err != nil {
		logrus.Fatal(err)
	}
	for _, a := range aggregate(annots, *distance) {
		err = w.Write(a)
		if err != nil {
			logrus.Fatal(err)
		}
	}
	err = w.Close()
	if err != nil {
		logrus.Fatal(err)
	}
}

// aggregate returns the clusters of the segments in annots in chromosome
// and strand order.
func aggregate(annots map[string][]*annotation.Annotation, distance int64) []*annotation.Annotation {
	chroms := make([]string, 0, len(annots))
	for c := range annots {
		chroms = append(chroms, c)
	}
	slices.Sort(chroms)

	var clusters []*annotation.Annotation
	for _, c := range chroms {
		byStrand := make(map[string][]annotation.Segment)
		for _, a := range annots[c] {
			for _, s := range a.Segments {
				if s.Strand == "" {
					s.Strand = a.Strand
				}
				byStrand[s.Strand] = append(byStrand[s.Strand], s)
			}
		}
		strands := make([]string, 0, len(byStrand))
		for s := range byStrand {
			strands = append(strands, s)
		}
		slices.Sort(strands)

		var n int
		for _, s := range strands {
			cl := annotation.Cluster(c, byStrand[s], distance)
			n += len(cl)
			clusters = append(clusters, cl...)
		}
		logrus.WithFields(logrus.Fields{
			"reference":   c,
			"annotations": len(annots[c]),
			"clusters":    n,
		}).Info("clustered")
	}
	return clusters
}
