package jmatch

import (
	"github.com/jojodiff/jdiff/jfile"
)

// check verifies a candidate by comparing bytes, hunting for a run of at
// least eqlSize equals. On inequality before that, the destination
// advances one byte; a colliding candidate advances the source with it,
// a gliding one rewinds the source by the equals seen so far to stay on
// its fixed anchor. Searching gives up once dist bytes were burned
// without success, and stops early at end-of-buffer in soft mode.
//
// Returns the positions of the start of the found run and its length
// (> eqlMin), or cmpEOB when a reader ran out of buffer first, or 0.
func (t *Table) check(posOrg, posNew, dist int64, glide int, mode jfile.Mode) (int64, int64, int) {
	var cOrg, cNew int
	eql := 0

loop:
	for ; eql < eqlMax; dist-- {
		if cOrg = t.src.Get(posOrg, mode); cOrg < 0 {
			break
		}
		if cNew = t.dst.Get(posNew, mode); cNew < 0 {
			break
		}

		switch {
		case cOrg == cNew:
			posOrg++
			posNew++
			eql++
		case eql >= eqlSize:
			// mismatch right after an interesting run: take the run
			break loop
		case dist <= 0:
			break loop
		default:
			posNew++
			if glide != 0 {
				posOrg -= int64(eql)
			} else {
				posOrg++
			}
			eql = 0
		}
	}

	if eql > eqlMin {
		return posOrg - int64(eql), posNew - int64(eql), eql
	}
	if cOrg == jfile.EOB || cNew == jfile.EOB {
		return posOrg, posNew, cmpEOB
	}
	return posOrg, posNew, 0
}
