package jdiff_test

import (
	"bytes"
	"testing"

	"github.com/itchio/savior/seeksource"
	"github.com/stretchr/testify/assert"

	"github.com/jojodiff/jdiff/jdiff"
	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/jpatch"
	"github.com/jojodiff/jdiff/wire"
	"github.com/jojodiff/jdiff/wtest"
)

const (
	testBufSize = 8 * 1024
	testBlkSize = 512
)

func makeFile(data []byte) jfile.File {
	return jfile.New(bytes.NewReader(data), testBufSize, testBlkSize, false)
}

// diffPatchCycle diffs srcData against dstData, applies the patch back
// onto srcData, and requires the reconstruction to be byte-identical.
func diffPatchCycle(t *testing.T, srcData, dstData []byte, tweak func(*jdiff.DiffParams)) ([]byte, jdiff.Stats) {
	t.Helper()

	patchBuf := new(bytes.Buffer)
	bw := jdiff.NewBinWriter(patchBuf)

	params := jdiff.DiffParams{
		Source: makeFile(srcData),
		Dest:   makeFile(dstData),
		Output: bw,
	}
	if tweak != nil {
		tweak(&params)
	}

	dctx, err := jdiff.NewDiffContext(params)
	wtest.Must(t, err)
	wtest.Must(t, dctx.Diff())

	out := new(bytes.Buffer)
	pctx, err := jpatch.NewPatchContext(jpatch.PatchParams{
		Source: makeFile(srcData),
		Patch:  seeksource.FromBytes(patchBuf.Bytes()),
		Output: out,
	})
	wtest.Must(t, err)
	wtest.Must(t, pctx.Apply())

	if !bytes.Equal(out.Bytes(), dstData) {
		t.Fatalf("reconstruction differs: got %d bytes, want %d bytes",
			out.Len(), len(dstData))
	}

	return patchBuf.Bytes(), bw.Stats()
}

func TestDiffIdentity(t *testing.T) {
	data := wtest.MakeData(t, 0x1, 8192)

	patch, stats := diffPatchCycle(t, data, data, nil)

	// a single EQL covering the file, plus the terminator
	assert.Equal(t, []byte{
		wire.Esc, wire.Eql, 0xFD, 0x20, 0x00,
		wire.Esc, 0x00,
	}, patch)
	assert.EqualValues(t, 8192, stats.Eql)
	assert.EqualValues(t, 0, stats.Data)
}

func TestDiffEmptyDestination(t *testing.T) {
	data := wtest.MakeData(t, 0x2, 4096)

	patch, _ := diffPatchCycle(t, data, nil, nil)
	assert.Equal(t, []byte{wire.Esc, 0x00}, patch)
}

func TestDiffEmptySource(t *testing.T) {
	data := wtest.MakeData(t, 0x3, 4096)

	_, stats := diffPatchCycle(t, nil, data, nil)
	assert.EqualValues(t, 4096, stats.Data)
	assert.EqualValues(t, 0, stats.Eql)
}

func TestDiffBothEmpty(t *testing.T) {
	patch, _ := diffPatchCycle(t, nil, nil, nil)
	assert.Equal(t, []byte{wire.Esc, 0x00}, patch)
}

func TestDiffModifiedMiddle(t *testing.T) {
	srcData := wtest.MakeData(t, 0x4, 64*1024)
	dstData := append([]byte(nil), srcData...)
	for i := 30000; i < 30010; i++ {
		dstData[i] ^= 0xFF
	}

	_, stats := diffPatchCycle(t, srcData, dstData, nil)
	assert.True(t, stats.Eql > 60000, "most of the file should stay equal (got %d)", stats.Eql)
}

func TestDiffInsertedBlock(t *testing.T) {
	srcData := wtest.MakeData(t, 0x5, 64*1024)
	insert := wtest.MakeData(t, 0x6, 2000)

	dstData := append([]byte(nil), srcData[:40000]...)
	dstData = append(dstData, insert...)
	dstData = append(dstData, srcData[40000:]...)

	_, stats := diffPatchCycle(t, srcData, dstData, nil)
	assert.True(t, stats.Eql > 60000, "equal regions should be found (got %d)", stats.Eql)
}

func TestDiffDeletedBlock(t *testing.T) {
	srcData := wtest.MakeData(t, 0x7, 64*1024)
	dstData := append([]byte(nil), srcData[:20000]...)
	dstData = append(dstData, srcData[30000:]...)

	_, stats := diffPatchCycle(t, srcData, dstData, nil)
	assert.True(t, stats.Del > 0, "a delete should be emitted")
}

func TestDiffPrefixStripped(t *testing.T) {
	srcData := wtest.MakeData(t, 0x8, 64*1024)
	srcData[0] = srcData[1000] + 1 // force immediate divergence

	dstData := srcData[1000:]

	patch, stats := diffPatchCycle(t, srcData, dstData, nil)
	assert.Equal(t, byte(wire.Esc), patch[0])
	assert.Equal(t, byte(wire.Del), patch[1])
	assert.EqualValues(t, 1000, stats.Del)
}

func TestDiffAppendedSuffix(t *testing.T) {
	srcData := wtest.MakeData(t, 0x9, 32*1024)
	extra := wtest.MakeData(t, 0xA, 3000)
	dstData := append(append([]byte(nil), srcData...), extra...)

	_, stats := diffPatchCycle(t, srcData, dstData, nil)
	assert.True(t, stats.Eql >= 32*1024-64, "the whole source should be reused (got %d)", stats.Eql)
}

func TestDiffEscapeBytes(t *testing.T) {
	srcData := wtest.MakeData(t, 0xB, 16*1024)
	insert := bytes.Repeat([]byte{wire.Esc}, 20)
	dstData := append([]byte(nil), srcData[:8000]...)
	dstData = append(dstData, insert...)
	dstData = append(dstData, srcData[8000:]...)

	_, stats := diffPatchCycle(t, srcData, dstData, nil)
	assert.True(t, stats.Escaped > 0, "escape doubling should kick in")
}

func TestDiffRepeatedRuns(t *testing.T) {
	// long runs of one byte exercise the gliding match family
	tail := wtest.MakeData(t, 0xC, 8000)
	srcData := append(bytes.Repeat([]byte{'A'}, 10000), tail...)
	dstData := append(bytes.Repeat([]byte{'A'}, 20000), tail...)

	diffPatchCycle(t, srcData, dstData, nil)
}

func TestDiffSwappedHalves(t *testing.T) {
	srcData := wtest.MakeData(t, 0xD, 40*1024)
	dstData := append([]byte(nil), srcData[20*1024:]...)
	dstData = append(dstData, srcData[:20*1024]...)

	// the second half needs a backtrace on the source
	_, stats := diffPatchCycle(t, srcData, dstData, nil)
	assert.True(t, stats.Bkt > 0, "a backtrace should be emitted")

	// and must still round-trip with backtracking disallowed
	diffPatchCycle(t, srcData, dstData, func(p *jdiff.DiffParams) {
		p.NoBacktrack = true
	})
}

func TestDiffIncrementalScan(t *testing.T) {
	srcData := wtest.MakeData(t, 0xE, 64*1024)
	dstData := append([]byte(nil), srcData...)
	copy(dstData[10000:], wtest.MakeData(t, 0xF, 300))

	_, stats := diffPatchCycle(t, srcData, dstData, func(p *jdiff.DiffParams) {
		p.Scan = jdiff.ScanIncremental
	})
	assert.True(t, stats.Eql > 50000, "incremental scan should still find equality (got %d)", stats.Eql)
}

func TestDiffLazy(t *testing.T) {
	srcData := wtest.MakeData(t, 0x10, 64*1024)
	dstData := append([]byte(nil), srcData...)
	copy(dstData[44444:], wtest.MakeData(t, 0x11, 100))

	diffPatchCycle(t, srcData, dstData, func(p *jdiff.DiffParams) {
		p.Lazy = true
	})
}

func TestDiffSmallInputs(t *testing.T) {
	// inputs smaller than one sample still round-trip, even though the
	// index cannot help there
	cases := [][2]string{
		{"ABCDEFGH", "ABCDEFGH"},
		{"ABCDEF", "ABZZEF"},
		{"HELLO", "XHELLO"},
		{"ABABABAB", "AB"},
		{"", "X"},
		{"X", ""},
	}

	for _, c := range cases {
		diffPatchCycle(t, []byte(c[0]), []byte(c[1]), nil)
	}
}

func TestDiffParamsValidation(t *testing.T) {
	_, err := jdiff.NewDiffContext(jdiff.DiffParams{})
	assert.Error(t, err)
}
