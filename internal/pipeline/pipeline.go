// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline calls peaks over sets of counts archives, processing
// references in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kortschak/counts/archive"
	"github.com/kortschak/counts/counts"
	"github.com/kortschak/counts/merge"
	"github.com/kortschak/counts/peak"
)

// Reference is a reference sequence identified by index and name.
type Reference struct {
	Index int
	Name  string
}

// References returns the union of the references held by archives in
// index order. When archives disagree on the name of an index the first
// name seen is used.
func References(archives ...*archive.Reader) []Reference {
	seen := make(map[int]string)
	for _, a := range archives {
		for _, i := range a.Indices() {
			name, _ := a.Identifier(i)
			prev, ok := seen[i]
			if !ok {
				seen[i] = name
				continue
			}
			if prev != name {
				logrus.WithFields(logrus.Fields{
					"index":    i,
					"name":     prev,
					"conflict": name,
					"archive":  a.Path(),
				}).Warn("reference name mismatch")
			}
		}
	}
	refs := make([]Reference, 0, len(seen))
	for i, name := range seen {
		refs = append(refs, Reference{Index: i, Name: name})
	}
	slices.SortFunc(refs, func(a, b Reference) int { return a.Index - b.Index })
	return refs
}

// Config holds peak calling parameters.
type Config struct {
	// Threshold is the inclusive detection
	// threshold for the summed count.
	Threshold int64

	// Include restricts processing to the
	// named references. All references are
	// processed if Include is empty.
	Include map[string]bool

	// Workers is the number of references
	// processed concurrently. If zero,
	// GOMAXPROCS is used.
	Workers int
}

func (c Config) includes(name string) bool {
	return len(c.Include) == 0 || c.Include[name]
}

// Result is the set of peaks called for one reference.
type Result struct {
	Reference Reference
	Peaks     []peak.Peak

	// Err is non-nil if a stream for the
	// reference is corrupt. Peaks is empty
	// in that case.
	Err error
}

type job struct {
	seq int
	ref Reference
}

type result struct {
	seq int
	Result
}

// Peaks calls peaks on the summed counts of archives for each of refs
// included by cfg. Results are passed to visit in the order of refs. A
// corrupt stream is reported in the Result for its reference and does not
// stop processing. Any other error, or an error returned by visit, stops
// processing and is returned.
func Peaks(ctx context.Context, cfg Config, archives []*archive.Reader, refs []Reference, visit func(Result) error) error {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, workers*2)
	results := make(chan result, workers*2)

	g, ctx := errgroup.WithContext(ctx)

	// Start workers
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				peaks, err := call(cfg.Threshold, archives, j.ref)
				if err != nil && !errors.Is(err, counts.ErrArchiveCorrupt) {
					return err
				}
				select {
				case results <- result{seq: j.seq, Result: Result{Reference: j.ref, Peaks: peaks, Err: err}}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	// Producer: dispatch included references
	g.Go(func() error {
		defer close(jobs)
		var seq int
		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !cfg.includes(ref.Name) {
				logrus.WithField("reference", ref.Name).Debug("skipping excluded reference")
				continue
			}
			select {
			case jobs <- job{seq: seq, ref: ref}:
				seq++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	// Collector: deliver results in order
	var collectorErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectorErr = collect(results, visit)
		if collectorErr != nil {
			cancel()
			for range results {
			}
		}
	}()

	workerErr := g.Wait()
	close(results)
	<-collectorDone

	if collectorErr != nil {
		return collectorErr
	}
	return workerErr
}

func collect(results <-chan result, visit func(Result) error) error {
	pending := make(map[int]Result)
	next := 0
	for r := range results {
		pending[r.seq] = r.Result
		for {
			res, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			err := visit(res)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// call returns the peaks of the summed counts of archives for ref.
func call(threshold int64, archives []*archive.Reader, ref Reference) ([]peak.Peak, error) {
	srcs := make([]counts.Source, len(archives))
	for i, a := range archives {
		if name, ok := a.Identifier(ref.Index); ok && name != ref.Name {
			logrus.WithFields(logrus.Fields{
				"reference": ref.Name,
				"index":     ref.Index,
				"archive":   a.Path(),
				"name":      name,
			}).Warn("reference name mismatch")
		}
		r, err := a.CountReader(ref.Index)
		if err != nil {
			for _, s := range srcs[:i] {
				s.Close()
			}
			return nil, fmt.Errorf("%s: %s: %w", a.Path(), ref.Name, err)
		}
		srcs[i] = r
	}

	agg := peak.New(merge.New(srcs...))
	agg.SetThreshold(threshold)
	peaks, err := agg.All()
	cerr := agg.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Name, err)
	}
	logrus.WithFields(logrus.Fields{
		"reference": ref.Name,
		"index":     ref.Index,
		"peaks":     len(peaks),
	}).Debug("called peaks")
	return peaks, nil
}
