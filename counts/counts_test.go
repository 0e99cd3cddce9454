// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package counts

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type run struct {
	count  int64
	length uint32
}

func encode(t *testing.T, runs []run) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range runs {
		require.NoError(t, w.Write(r.count, r.length))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		runs []run
	}{
		{"empty", nil},
		{"single", []run{{3, 10}}},
		{"zero first", []run{{0, 5}, {1, 3}, {0, 2}}},
		{"repeated counts", []run{{2, 1}, {2, 1}, {2, 1}}},
		{"large values", []run{{math.MaxInt32, math.MaxUint32}, {0, 1}, {1 << 40, 7}}},
		{"decreasing", []run{{100, 1}, {50, 2}, {10, 3}, {0, 4}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewReader(bytes.NewReader(encode(t, tt.runs)))
			var got []run
			for r.HasNext() {
				require.NoError(t, r.Next())
				got = append(got, run{r.Count(), r.Length()})
			}
			require.NoError(t, r.Err())
			assert.Equal(t, tt.runs, got)
			assert.ErrorIs(t, r.Next(), ErrEndOfStream)
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewSource(1))
	runs := make([]run, 10000)
	for i := range runs {
		runs[i] = run{count: rnd.Int63n(1000), length: uint32(rnd.Intn(1000) + 1)}
	}

	r := NewReader(bytes.NewReader(encode(t, runs)))
	got, err := Collect(r)
	require.NoError(t, err)
	require.Len(t, got, len(runs))
	for i, tr := range got {
		assert.Equal(t, runs[i].count, tr.Count)
		assert.Equal(t, runs[i].length, tr.Length)
	}
}

func TestContiguity(t *testing.T) {
	t.Parallel()

	runs := []run{{1, 4}, {0, 6}, {7, 1}, {2, 100}}
	got, err := Collect(NewReader(bytes.NewReader(encode(t, runs))))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Zero(t, got[0].Position)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].End(), got[i].Position)
	}
}

func TestDeltaCount(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader(encode(t, []run{{10, 1}, {15, 1}, {3, 2}})))
	var deltas []int64
	for r.HasNext() {
		require.NoError(t, r.Next())
		deltas = append(deltas, r.DeltaCount())
	}
	assert.Equal(t, []int64{10, 5, -12}, deltas)
}

func TestWriterErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	assert.ErrorIs(t, w.Write(1, 0), ErrInvalidRunLength)
	assert.ErrorIs(t, w.Write(-1, 1), ErrNegativeCount)
	require.NoError(t, w.Write(1, 5))
	assert.ErrorIs(t, w.WriteAt(3, 1, 1), ErrNonMonotonicWrite)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(1, 1), ErrStreamClosed)
	assert.Equal(t, 1, w.Transitions())
}

func TestWriteAtFillsGaps(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteAt(0, 2, 3))
	require.NoError(t, w.WriteAt(10, 5, 2))
	require.NoError(t, w.WriteAt(12, 1, 1))
	assert.Equal(t, uint64(13), w.Position())
	require.NoError(t, w.Close())

	got, err := Collect(NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, []Transition{
		{Position: 0, Length: 3, Count: 2},
		{Position: 3, Length: 7, Count: 0},
		{Position: 10, Length: 2, Count: 5},
		{Position: 12, Length: 1, Count: 1},
	}, got)
}

func TestReaderCorrupt(t *testing.T) {
	t.Parallel()

	data := encode(t, []run{{1, 300}, {2, 400}})

	tests := []struct {
		name string
		data []byte
	}{
		{"no end marker", data[:len(data)-2]},
		{"truncated varint", data[:2]},
		{"empty", nil},
		{"overflow", bytes.Repeat([]byte{0xff}, 11)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewReader(bytes.NewReader(tt.data))
			_, err := Collect(r)
			assert.ErrorIs(t, err, ErrArchiveCorrupt)
			assert.ErrorIs(t, r.Next(), ErrArchiveCorrupt)
		})
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestReaderIOError(t *testing.T) {
	t.Parallel()

	ioErr := errors.New("disk on fire")
	r := NewReader(failingReader{ioErr})
	assert.False(t, r.HasNext())
	assert.ErrorIs(t, r.Err(), ioErr)
	assert.NotErrorIs(t, r.Err(), ErrArchiveCorrupt)
}

func TestNilReader(t *testing.T) {
	t.Parallel()

	var r *Reader
	assert.False(t, r.HasNext())
	assert.ErrorIs(t, r.Next(), ErrEndOfStream)
	assert.Zero(t, r.Count())
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())
}

func TestSkipTo(t *testing.T) {
	t.Parallel()

	data := encode(t, []run{{1, 10}, {2, 10}, {3, 10}})

	r := NewReader(bytes.NewReader(data))
	require.True(t, r.SkipTo(15))
	assert.Equal(t, uint64(10), r.Position())
	assert.Equal(t, int64(2), r.Count())

	require.True(t, r.SkipTo(19))
	assert.Equal(t, uint64(10), r.Position())

	require.True(t, r.SkipTo(20))
	assert.Equal(t, int64(3), r.Count())

	assert.False(t, r.SkipTo(30))
}

func TestPositionWriter(t *testing.T) {
	t.Parallel()

	type obs struct {
		pos   uint64
		count int64
	}
	tests := []struct {
		name string
		obs  []obs
		want []Transition
	}{
		{
			name: "adjacent runs",
			obs:  []obs{{0, 5}, {1, 5}, {2, 7}},
			want: []Transition{{0, 2, 5}, {2, 1, 7}},
		},
		{
			name: "gaps are zero",
			obs:  []obs{{3, 4}, {4, 4}, {8, 1}},
			want: []Transition{{0, 3, 0}, {3, 2, 4}, {5, 3, 0}, {8, 1, 1}},
		},
		{
			name: "trailing zero dropped",
			obs:  []obs{{0, 1}, {1, 0}, {2, 0}},
			want: []Transition{{0, 1, 1}},
		},
		{
			name: "negative clamped",
			obs:  []obs{{0, 2}, {1, -3}, {2, 2}},
			want: []Transition{{0, 1, 2}, {1, 1, 0}, {2, 1, 2}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			p := NewPositionWriter(NewWriter(&buf))
			for _, o := range tt.obs {
				require.NoError(t, p.Add(o.pos, o.count))
			}
			require.NoError(t, p.Close())

			got, err := Collect(NewReader(&buf))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPositionWriterOrder(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewPositionWriter(NewWriter(&buf))
	require.NoError(t, p.Add(5, 1))
	assert.ErrorIs(t, p.Add(5, 1), ErrNonMonotonicWrite)
	assert.ErrorIs(t, p.Add(2, 1), ErrNonMonotonicWrite)
}

func TestBinner(t *testing.T) {
	t.Parallel()

	// Positions 0-9: 0 0 4 4 4 4 0 0 8 8
	// Positions 10-14: 8 0 0 0 0
	data := encode(t, []run{{0, 2}, {4, 4}, {0, 2}, {8, 3}, {0, 4}})
	b := NewBinner(NewReader(bytes.NewReader(data)), 10)

	require.True(t, b.HasNext())
	require.NoError(t, b.Next())
	assert.Equal(t, uint64(0), b.Position())
	assert.Equal(t, uint32(10), b.Length())
	assert.InDelta(t, 32.0/6, b.Average(), 1e-9)
	assert.Equal(t, int64(5), b.Count())
	assert.Equal(t, int64(8), b.Max())

	require.True(t, b.HasNext())
	require.NoError(t, b.Next())
	assert.Equal(t, uint64(10), b.Position())
	assert.Equal(t, uint32(5), b.Length())
	assert.InDelta(t, 8.0, b.Average(), 1e-9)

	assert.False(t, b.HasNext())
	assert.ErrorIs(t, b.Next(), ErrEndOfStream)
	assert.NoError(t, b.Err())
}

func TestZigzag(t *testing.T) {
	t.Parallel()

	for _, d := range []int64{0, 1, -1, 2, -2, math.MaxInt64, math.MinInt64} {
		assert.Equal(t, d, unzigzag(zigzag(d)))
	}
	assert.Equal(t, uint64(1), zigzag(-1))
	assert.Equal(t, uint64(2), zigzag(1))
}
