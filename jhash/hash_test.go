package jhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollingDistinguishesRuns(t *testing.T) {
	// inside a run of equal bytes, every position must still hash
	// differently until almost twice the sample width, where the shifted
	// state finally cycles
	var r Rolling
	r.Reset()

	seen := make(map[Key]bool)
	for i := 0; i < SampleSize*2-2; i++ {
		k := r.Roll(0x33)
		assert.False(t, seen[k], "key repeated at offset %d of a run", i)
		seen[k] = true
	}
}

func TestRollingEqlCount(t *testing.T) {
	var r Rolling
	r.Reset()

	r.Roll('a')
	assert.Equal(t, 0, r.EqlCount())
	r.Roll('a')
	assert.Equal(t, 1, r.EqlCount())
	r.Roll('a')
	assert.Equal(t, 2, r.EqlCount())
	r.Roll('b')
	assert.Equal(t, 0, r.EqlCount())
}

func TestRollingReplayConverges(t *testing.T) {
	// a hash reinitialized mid-stream must agree with the full-stream
	// hash after replaying 2*SampleSize-1 bytes
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i*31 + i/7)
	}

	var full Rolling
	full.Reset()
	var fullKey Key
	for _, c := range data {
		fullKey = full.Roll(int(c))
	}

	var mid Rolling
	mid.Reset()
	start := len(data) - (2*SampleSize - 1)
	var midKey Key
	for _, c := range data[start:] {
		midKey = mid.Roll(int(c))
	}

	assert.Equal(t, fullKey, midKey)
}
