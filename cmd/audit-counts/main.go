// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The audit-counts command allows the contents of a counts archive to be
// inspected. Output from audit-counts is a JSON stream on stdout.
//
// For each reference in the archive, or only the reference named by -ref,
// an index record is written corresponding to the following Go struct.
//  struct {
//  	Index       int
//  	Name        string
//  	Offset      uint64
//  	Size        uint64
//  	Transitions uint64
//  	Extent      uint64
//  }
//
// The index record is followed by the reference's transitions.
//  struct {
//  	Reference string
//  	Position  uint64
//  	Length    uint32
//  	Count     int64
//  }
//
// If -bin is given, fixed size windows are written in place of
// transitions.
//  struct {
//  	Reference string
//  	Position  uint64
//  	Length    uint32
//  	Average   float64
//  	Max       int64
//  }
//
// If -stats is given, a length-weighted summary of the counts is written
// in place of transitions.
//  struct {
//  	Reference   string
//  	Transitions int
//  	Extent      uint64
//  	Covered     uint64
//  	Max         int64
//  	Mean        float64
//  	StdDev      float64
//  	Median      float64
//  }
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kortschak/counts/archive"
	"github.com/kortschak/counts/counts"
	"github.com/kortschak/counts/stats"
)

func main() {
	base := flag.String("archive", "", "specify archive basename to audit (required)")
	suffix := flag.String("suffix", archive.DefaultSuffix, "specify archive suffix")
	ref := flag.String("ref", "", "specify reference to audit (default all)")
	bin := flag.Uint("bin", 0, "specify window size for binned output")
	summary := flag.Bool("stats", false, "specify to output count statistics in place of transitions")
	flag.Parse()
	if *base == "" || *bin > 1<<32-1 || (*bin != 0 && *summary) {
		flag.Usage()
		os.Exit(2)
	}

	a, err := archive.Open(*base, *suffix)
	if err != nil {
		logrus.Fatal(err)
	}
	defer a.Close()

	err = audit(os.Stdout, a, *ref, uint32(*bin), *summary)
	if err != nil {
		logrus.Fatal(err)
	}
}

// audit writes the JSON records for the references of a to w. A corrupt
// reference is logged and skipped.
func audit(w io.Writer, a *archive.Reader, ref string, bin uint32, summary bool) error {
	enc := json.NewEncoder(w)
	for _, i := range a.Indices() {
		e, _ := a.Entry(i)
		if ref != "" && e.Name != ref {
			continue
		}
		err := enc.Encode(e)
		if err != nil {
			return err
		}
		err = auditReference(enc, a, e, bin, summary)
		if errors.Is(err, counts.ErrArchiveCorrupt) {
			logrus.WithFields(logrus.Fields{
				"reference": e.Name,
				"archive":   a.Path(),
			}).WithError(err).Warn("skipping corrupt reference")
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func auditReference(enc *json.Encoder, a *archive.Reader, e archive.Entry, bin uint32, summary bool) error {
	r, err := a.CountReader(e.Index)
	if err != nil {
		return err
	}
	defer r.Close()

	switch {
	case summary:
		s, err := stats.Summarize(r)
		if err != nil {
			return err
		}
		return enc.Encode(summaryRecord{Reference: e.Name, Summary: s})
	case bin != 0:
		b := counts.NewBinner(r, bin)
		for b.HasNext() {
			err = b.Next()
			if err != nil {
				return err
			}
			err = enc.Encode(window{
				Reference: e.Name,
				Position:  b.Position(),
				Length:    b.Length(),
				Average:   b.Average(),
				Max:       b.Max(),
			})
			if err != nil {
				return err
			}
		}
		return b.Err()
	default:
		for r.HasNext() {
			err = r.Next()
			if err != nil {
				return err
			}
			err = enc.Encode(transition{
				Reference:  e.Name,
				Transition: r.Transition(),
			})
			if err != nil {
				return err
			}
		}
		return r.Err()
	}
}

type transition struct {
	Reference string
	counts.Transition
}

type window struct {
	Reference string
	Position  uint64
	Length    uint32
	Average   float64
	Max       int64
}

type summaryRecord struct {
	Reference string
	stats.Summary
}
