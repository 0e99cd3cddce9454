// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package counts

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// PositionWriter collapses per-position counts into runs written to a
// Writer. Positions that are not observed hold a zero count.
type PositionWriter struct {
	w *Writer

	// The pending run is [start, end) holding count.
	start, end uint64
	count      int64
	observed   bool
}

// NewPositionWriter returns a PositionWriter writing to w.
func NewPositionWriter(w *Writer) *PositionWriter {
	return &PositionWriter{w: w}
}

// Add records count at position. Positions must be strictly increasing.
// Negative counts are written as zero.
func (p *PositionWriter) Add(position uint64, count int64) error {
	if p.observed && position < p.end {
		return fmt.Errorf("%w: position %d after %d", ErrNonMonotonicWrite, position, p.end-1)
	}
	if count < 0 {
		logrus.WithFields(logrus.Fields{"position": position, "count": count}).Warn("clamping negative count to zero")
		count = 0
	}
	p.observed = true

	if position > p.end {
		if p.count == 0 {
			p.end = position
		} else {
			err := p.flush()
			if err != nil {
				return err
			}
			p.start, p.end, p.count = p.end, position, 0
		}
	}
	if count == p.count {
		p.end++
		return nil
	}
	err := p.flush()
	if err != nil {
		return err
	}
	p.start, p.end, p.count = position, position+1, count
	return nil
}

func (p *PositionWriter) flush() error {
	for p.start < p.end {
		n := uint32(min(p.end-p.start, uint64(^uint32(0))))
		err := p.w.WriteAt(p.start, p.count, n)
		if err != nil {
			return err
		}
		p.start += uint64(n)
	}
	return nil
}

// Close writes the final run and closes the underlying Writer. A trailing
// run of zero count is not written.
func (p *PositionWriter) Close() error {
	if p.count != 0 {
		err := p.flush()
		if err != nil {
			return err
		}
	}
	return p.w.Close()
}
