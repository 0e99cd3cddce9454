// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/counts/counts"
)

type reference struct {
	index int
	name  string
	runs  []counts.Transition
}

var testReferences = []reference{
	{index: 0, name: "chr1", runs: []counts.Transition{
		{Position: 0, Length: 10, Count: 0},
		{Position: 10, Length: 5, Count: 3},
		{Position: 15, Length: 20, Count: 1},
	}},
	{index: 2, name: "chr3", runs: []counts.Transition{
		{Position: 0, Length: 100, Count: 7},
	}},
	{index: 3, name: "chrM", runs: nil},
}

func writeArchive(t *testing.T, basename, suffix string, refs []reference) {
	t.Helper()
	w, err := Create(basename, suffix)
	require.NoError(t, err)
	for _, ref := range refs {
		cw, err := w.NewCountWriter(ref.index, ref.name)
		require.NoError(t, err)
		for _, tr := range ref.runs {
			require.NoError(t, cw.Write(tr.Count, tr.Length))
		}
		require.NoError(t, w.ReturnWriter(cw))
	}
	require.NoError(t, w.Close())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "sample")
	writeArchive(t, base, "", testReferences)

	_, err := os.Stat(base + ".counts")
	require.NoError(t, err)

	r, err := Open(base, DefaultSuffix)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"chr1", "chr3", "chrM"}, r.Identifiers())
	assert.Equal(t, []int{0, 2, 3}, r.Indices())

	for _, ref := range testReferences {
		name, ok := r.Identifier(ref.index)
		require.True(t, ok)
		assert.Equal(t, ref.name, name)

		cr, err := r.CountReader(ref.index)
		require.NoError(t, err)
		require.NotNil(t, cr)
		got, err := counts.Collect(cr)
		require.NoError(t, err)
		assert.Equal(t, ref.runs, got)

		cr, err = r.CountReaderByName(ref.name)
		require.NoError(t, err)
		got, err = counts.Collect(cr)
		require.NoError(t, err)
		assert.Equal(t, ref.runs, got)
	}

	e, ok := r.Entry(0)
	require.True(t, ok)
	assert.Equal(t, uint64(3), e.Transitions)
	ext, ok := r.Extent(0)
	require.True(t, ok)
	assert.Equal(t, uint64(35), ext)
}

func TestMissingReference(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "sample")
	writeArchive(t, base, "mask", testReferences[:1])

	r, err := Open(base, "mask")
	require.NoError(t, err)
	defer r.Close()

	for _, index := range []int{-1, 1, 2, 100} {
		cr, err := r.CountReader(index)
		assert.NoError(t, err)
		assert.Nil(t, cr)
		assert.False(t, cr.HasNext())

		_, ok := r.Identifier(index)
		assert.False(t, ok)
	}
	cr, err := r.CountReaderByName("chrX")
	assert.NoError(t, err)
	assert.Nil(t, cr)
}

func TestSuffixesIndependent(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "sample")
	writeArchive(t, base, "", testReferences)
	writeArchive(t, base, "alt", testReferences[1:2])

	r, err := Open(base, "alt")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{"chr3"}, r.Identifiers())

	d, err := Open(base, "")
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, 3, d.Len())
}

func TestArchiveNotFound(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "absent"), "")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestWriterOrder(t *testing.T) {
	t.Parallel()

	w, err := Create(filepath.Join(t.TempDir(), "sample"), "")
	require.NoError(t, err)
	defer w.Close()

	cw, err := w.NewCountWriter(2, "chr3")
	require.NoError(t, err)

	_, err = w.NewCountWriter(3, "chr4")
	assert.ErrorIs(t, err, ErrWriterOutstanding)

	require.NoError(t, w.ReturnWriter(cw))

	_, err = w.NewCountWriter(2, "chr3b")
	assert.ErrorIs(t, err, counts.ErrNonMonotonicWrite)
	_, err = w.NewCountWriter(1, "chr2")
	assert.ErrorIs(t, err, counts.ErrNonMonotonicWrite)

	cw, err = w.NewCountWriter(5, "chr6")
	require.NoError(t, err)
	require.NoError(t, w.ReturnWriter(cw))
	assert.Error(t, w.ReturnWriter(cw))

	_, err = w.NewCountWriter(MaxIndex+1, "chrBig")
	assert.Error(t, err)
	cw, err = w.NewCountWriter(MaxIndex, "chrLast")
	require.NoError(t, err)
	require.NoError(t, w.ReturnWriter(cw))
}

func TestCloseReturnsOutstanding(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "sample")
	w, err := Create(base, "")
	require.NoError(t, err)
	cw, err := w.NewCountWriter(0, "chr1")
	require.NoError(t, err)
	require.NoError(t, cw.Write(4, 4))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, cw.Write(1, 1), counts.ErrStreamClosed)

	r, err := Open(base, "")
	require.NoError(t, err)
	defer r.Close()
	cr, err := r.CountReader(0)
	require.NoError(t, err)
	got, err := counts.Collect(cr)
	require.NoError(t, err)
	assert.Equal(t, []counts.Transition{{Position: 0, Length: 4, Count: 4}}, got)
}

func TestCorruptBlockIsolated(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "sample")
	writeArchive(t, base, "", testReferences)

	r, err := Open(base, "")
	require.NoError(t, err)
	e, ok := r.Entry(2)
	require.True(t, ok)
	require.NoError(t, r.Close())

	path := Filename(base, "")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data[e.Offset:e.Offset+e.Size], bytes.Repeat([]byte{0xff}, int(e.Size)))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err = Open(base, "")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.CountReader(2)
	assert.ErrorIs(t, err, counts.ErrArchiveCorrupt)

	for _, index := range []int{0, 3} {
		cr, err := r.CountReader(index)
		require.NoError(t, err)
		_, err = counts.Collect(cr)
		assert.NoError(t, err)
	}
}

func TestCorruptFile(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "sample")
	writeArchive(t, base, "", testReferences)
	path := Filename(base, "")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"short", data[:8]},
		{"bad magic", append([]byte("XXXX"), data[4:]...)},
		{"truncated", data[:len(data)-1]},
		{"bad index offset", func() []byte {
			b := append([]byte(nil), data...)
			b[len(b)-trailerLen+7] = 0xff
			return b
		}()},
		{"huge reference index", func() []byte {
			b := append([]byte(nil), data...)
			off := binary.LittleEndian.Uint64(b[len(b)-trailerLen:])
			// First entry follows the entry count.
			binary.LittleEndian.PutUint32(b[off+4:], 0x7fffffff)
			return b
		}()},
		{"reference index past last allowed", func() []byte {
			b := append([]byte(nil), data...)
			off := binary.LittleEndian.Uint64(b[len(b)-trailerLen:])
			binary.LittleEndian.PutUint32(b[off+4:], MaxIndex+1)
			return b
		}()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base := filepath.Join(t.TempDir(), "corrupt")
			require.NoError(t, os.WriteFile(Filename(base, ""), tt.data, 0o644))
			_, err := Open(base, "")
			assert.ErrorIs(t, err, counts.ErrArchiveCorrupt)
		})
	}
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "sample")
	writeArchive(t, base, "", testReferences)

	r, err := Open(base, "")
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := testReferences[i%len(testReferences)]
			cr, err := r.CountReader(ref.index)
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = counts.Collect(cr)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}
