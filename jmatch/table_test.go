package jmatch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/jhash"
)

func testFiles(src, dst []byte) (jfile.File, jfile.File) {
	return jfile.New(bytes.NewReader(src), 8192, 512, false),
		jfile.New(bytes.NewReader(dst), 8192, 512, false)
}

func (t *Table) countLists() (newN, oldN int) {
	if t.newList != nil {
		t.newTail.nxtAge = nil
	}
	for m := t.newList; m != nil; m = m.nxtAge {
		newN++
	}
	for m := t.oldList; m != nil; m = m.nxtAge {
		oldN++
	}
	return
}

func TestAddConfirmsEqualRegion(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i * 17)
	}
	src, dst := testFiles(data, data)

	idx := jhash.NewIndex(1)
	tbl := New(idx, src, dst, 16, true)

	assert.Equal(t, Invalid, tbl.Cleanup(0, 400))

	// a delta-0 hit verifies from the read position and maxes out
	v := tbl.Add(500, 500, 400)
	assert.Equal(t, Best, v)

	bstOrg, bstNew, ok := tbl.Best(400, 400)
	assert.True(t, ok)
	assert.EqualValues(t, 400, bstOrg)
	assert.EqualValues(t, 400, bstNew)
}

func TestAddMergesCollidingHits(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i * 17)
	}
	src, dst := testFiles(data, data)

	idx := jhash.NewIndex(1)
	tbl := New(idx, src, dst, 16, true)
	tbl.Cleanup(0, 100)

	assert.Equal(t, Best, tbl.Add(200, 200, 100))
	// same delta: refresh, not a new entry
	assert.Equal(t, Enlarged, tbl.Add(300, 300, 100))
	assert.Equal(t, Enlarged, tbl.Add(400, 400, 100))

	newN, oldN := tbl.countLists()
	assert.Equal(t, 1, newN+oldN)
	assert.Equal(t, tbl.size-1, tbl.free)
}

func TestAddMergesGlidingHits(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i * 17)
	}
	src, dst := testFiles(data, data)

	idx := jhash.NewIndex(1)
	tbl := New(idx, src, dst, 16, true)
	tbl.Cleanup(0, 100)

	tbl.Add(200, 200, 100)
	// same source position, different delta: gliding refresh
	assert.Equal(t, Enlarged, tbl.Add(200, 260, 100))

	newN, oldN := tbl.countLists()
	assert.Equal(t, 1, newN+oldN)

	// the second hit landed within a sample of the first, so the glide
	// stride is the exact distance between them
	m := &tbl.pool[tbl.size-1]
	assert.Equal(t, 60, m.glide)
	assert.Equal(t, 2, m.cnt)
}

func TestAccounting(t *testing.T) {
	srcData := make([]byte, 65536)
	dstData := make([]byte, 65536)
	for i := range srcData {
		srcData[i] = byte(i * 31)
		dstData[i] = byte(i*31 + i/97)
	}
	src, dst := testFiles(srcData, dstData)

	idx := jhash.NewIndex(1)
	tbl := New(idx, src, dst, 13, true)

	red := int64(0)
	for i := 0; i < 300; i++ {
		if i%25 == 0 {
			red += 64
			tbl.Cleanup(0, red)
		}
		tbl.Add(int64((i*137)%60000), red+int64(i%80), red)

		newN, oldN := tbl.countLists()
		assert.Equal(t, tbl.size, newN+oldN+tbl.free,
			"accounting broken after add %d", i)
	}
}

func TestFullTable(t *testing.T) {
	// no Cleanup runs between the adds, so the old list stays empty and
	// no entry can be reused: once the free pool is exhausted the table
	// must report Full
	data := make([]byte, 65536)
	for i := range data {
		data[i] = byte(i * 31)
	}
	src, dst := testFiles(data, data)

	idx := jhash.NewIndex(1)
	tbl := New(idx, src, dst, 13, true)
	tbl.Cleanup(0, 0)

	sawFull := false
	for i := 0; i < 200 && !sawFull; i++ {
		// distinct deltas so no hit merges
		v := tbl.Add(int64(i*101), int64(i), 0)
		if v == Full {
			sawFull = true
		}
	}
	assert.True(t, sawFull)
}

func TestBestPrefersNearerMatch(t *testing.T) {
	// destination equals source shifted by 1000; a second, nearer hit
	// with another delta is a hash accident. The verified solution,
	// projected back to the read position, must win
	srcData := make([]byte, 32768)
	for i := range srcData {
		srcData[i] = byte(i*13 + i/251)
	}
	dstData := srcData[1000:]
	src, dst := testFiles(srcData, dstData)

	idx := jhash.NewIndex(1)
	tbl := New(idx, src, dst, 16, true)
	tbl.Cleanup(0, 0)

	tbl.Add(9000, 8000, 0) // delta 1000, valid everywhere
	tbl.Add(25000, 100, 0) // delta 24900, a hash accident

	bstOrg, bstNew, ok := tbl.Best(0, 0)
	assert.True(t, ok)
	assert.EqualValues(t, 1000, bstOrg)
	assert.EqualValues(t, 0, bstNew)
}
