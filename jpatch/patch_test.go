package jpatch_test

import (
	"bytes"
	"testing"

	"github.com/itchio/savior/seeksource"
	"github.com/stretchr/testify/assert"

	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/jpatch"
	"github.com/jojodiff/jdiff/wire"
	"github.com/jojodiff/jdiff/wtest"
)

func apply(t *testing.T, source []byte, patch []byte) ([]byte, error) {
	t.Helper()

	out := new(bytes.Buffer)
	pctx, err := jpatch.NewPatchContext(jpatch.PatchParams{
		Source: jfile.New(bytes.NewReader(source), 8192, 512, false),
		Patch:  seeksource.FromBytes(patch),
		Output: out,
	})
	wtest.Must(t, err)

	err = pctx.Apply()
	return out.Bytes(), err
}

func mustApply(t *testing.T, source []byte, patch []byte) []byte {
	t.Helper()
	out, err := apply(t, source, patch)
	wtest.Must(t, err)
	return out
}

func TestApplyEqual(t *testing.T) {
	// EQL 8, terminator
	out := mustApply(t, []byte("ABCDEFGH"), []byte{
		wire.Esc, wire.Eql, 0x07,
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte("ABCDEFGH"), out)
}

func TestApplyModRun(t *testing.T) {
	// EQL 2, MOD "ZZ", EQL 2, terminator
	out := mustApply(t, []byte("ABCDEF"), []byte{
		wire.Esc, wire.Eql, 0x01,
		wire.Esc, wire.Mod, 'Z', 'Z',
		wire.Esc, wire.Eql, 0x01,
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte("ABZZEF"), out)
}

func TestApplyInsert(t *testing.T) {
	// INS "X", EQL 5, terminator
	out := mustApply(t, []byte("HELLO"), []byte{
		wire.Esc, wire.Ins, 'X',
		wire.Esc, wire.Eql, 0x04,
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte("XHELLO"), out)
}

func TestApplyDelete(t *testing.T) {
	// EQL 2, DEL 6, terminator
	out := mustApply(t, []byte("ABABABAB"), []byte{
		wire.Esc, wire.Eql, 0x01,
		wire.Esc, wire.Del, 0x05,
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte("AB"), out)
}

func TestApplyBacktrace(t *testing.T) {
	// EQL 3, BKT 3, EQL 3: the source is copied twice
	out := mustApply(t, []byte("ABC"), []byte{
		wire.Esc, wire.Eql, 0x02,
		wire.Esc, wire.Bkt, 0x02,
		wire.Esc, wire.Eql, 0x02,
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte("ABCABC"), out)
}

func TestApplyLongLengths(t *testing.T) {
	src := bytes.Repeat([]byte{'a'}, 509)

	// EQL 253 via the one-extra-byte form
	out := mustApply(t, src, []byte{
		wire.Esc, wire.Eql, 0xFC, 0x00,
		wire.Esc, 0x00,
	})
	assert.Equal(t, src[:253], out)

	// EQL 509 via the 16-bit form
	out = mustApply(t, src, []byte{
		wire.Esc, wire.Eql, 0xFD, 0x01, 0xFD,
		wire.Esc, 0x00,
	})
	assert.Equal(t, src, out)
}

func TestApplyEscapedData(t *testing.T) {
	// a doubled escape inside a MOD run yields one escape byte
	out := mustApply(t, []byte("??"), []byte{
		wire.Esc, wire.Esc, 'x',
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte{wire.Esc, 'x'}, out)
}

func TestApplyEscapeBeforeNonOperator(t *testing.T) {
	// ESC before a non-operator byte: both pass through as data
	out := mustApply(t, []byte("??"), []byte{
		wire.Esc, 0x50,
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte{wire.Esc, 0x50}, out)
}

func TestApplyImplicitLeadingMod(t *testing.T) {
	out := mustApply(t, []byte("ab"), []byte{
		'Q', 'R',
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte("QR"), out)
}

func TestApplyEscapedOperatorRepeat(t *testing.T) {
	// ESC MOD inside a MOD run is data, not a new operator
	out := mustApply(t, []byte("abcd"), []byte{
		'Q', wire.Esc, wire.Mod, 'R',
		wire.Esc, 0x00,
	})
	assert.Equal(t, []byte{'Q', wire.Esc, wire.Mod, 'R'}, out)
}

func TestApplyMissingTerminator(t *testing.T) {
	// a patch ending without a terminator still applies cleanly
	out := mustApply(t, []byte("ab"), []byte{'Q'})
	assert.Equal(t, []byte("Q"), out)
}

func TestApplyTrailingEscape(t *testing.T) {
	_, err := apply(t, []byte("ab"), []byte{wire.Esc})
	assert.Error(t, err)
}

func TestApplyPastEndOfSource(t *testing.T) {
	_, err := apply(t, []byte("ab"), []byte{
		wire.Esc, wire.Eql, 0x09,
		wire.Esc, 0x00,
	})
	assert.Error(t, err)
}

func TestApplyEmptyPatch(t *testing.T) {
	out := mustApply(t, []byte("ab"), []byte{wire.Esc, 0x00})
	assert.Empty(t, out)
}

func TestApplyParamsValidation(t *testing.T) {
	_, err := jpatch.NewPatchContext(jpatch.PatchParams{})
	assert.Error(t, err)
}
