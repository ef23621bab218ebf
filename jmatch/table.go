// Package jmatch maintains a table of candidate equal regions between
// two streams and elects the best one at each search pass.
//
// Hash hits alone cannot be trusted: the index only retains a fraction
// of all samples, so the nearest equal region is not always discovered
// first, and equal keys do not guarantee equal bytes. The table
// therefore accumulates candidates, verifies them by comparing actual
// bytes, and only then picks the match closest to the current read
// position.
//
// Candidates come in two families. A colliding match keeps a constant
// offset between source and destination and grows as more hits arrive
// with the same delta. A gliding match keeps a constant source position
// while the destination hit position moves, which is the signature of a
// long run of repeated bytes in the source.
package jmatch

import (
	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/jhash"
)

// Verdict describes the state of the table or of a single candidate.
type Verdict int

const (
	// Error reports an accounting violation; it should not occur.
	Error Verdict = iota
	// Full means no free nor reusable entry is left.
	Full
	// Enlarged means an existing candidate received another hit.
	Enlarged
	// Invalid means the candidate does not point to a valid solution.
	Invalid
	// Good means a compare confirmed at least eqlSize equal bytes.
	Good
	// Best means a compare confirmed eqlMax equal bytes; stop searching.
	Best
	// Valid means the candidate holds a usable, shorter solution.
	Valid
)

// Continuous runs of 8 equal bytes are worth the jump; extending the
// compare to 256 lets longer runs win the election.
const (
	eqlSize = 8   // interesting-length threshold
	eqlMin  = 4   // minimum successful run
	eqlMax  = 256 // compare cap per invocation
)

const (
	maxDist = 2 * 1024 * 1024 // max compare distance
	minDist = 1024            // min compare distance
	fuzzy   = 0               // position slack when electing the best
)

// compare codes stored in match.cmp
const (
	cmpInv  = -1 // compared and found not equal; reusable
	cmpSkip = -2 // aged out; reusable unless rescued by a new hit
	cmpEOB  = -3 // verification hit end-of-buffer (lower values carry a score)
)

// match is one candidate equal region. Entries are threaded on three
// intrusive chains over the same pool: an aging list plus one hash chain
// per family.
type match struct {
	nxtAge *match // next on the aging (new/old) list
	nxtCol *match // next in the colliding bucket
	nxtGld *match // next in the gliding bucket

	cnt   int   // confirming hits
	glide int   // gliding recurrence (0 = colliding)
	beg   int64 // first hit, destination position
	last  int64 // most recent hit, destination position
	org   int64 // source position
	delta int64 // org - last at the time of the hit
	tst   int64 // destination position of the last compare
	cmp   int   // result of the last compare, or a cmp* code
}

// Table accumulates and elects candidate matches. All memory is
// allocated up front; entries are reused, never freed.
type Table struct {
	index *jhash.Index
	src   jfile.File
	dst   jfile.File

	size  int
	free  int
	prime int
	pool  []match
	col   []*match
	gld   []*match

	oldList *match
	newList *match
	newTail *match // attention: newTail.nxtAge dangles until the lists are joined

	best     *match
	bestOrg  int64
	bestNew  int64
	bestCmp  int
	oldLimit int64 // candidates wholly before this position are reusable

	cmpAll bool
	rlb    int

	repairs int
}

// New creates a table of size entries (minimum 13) verifying candidates
// against src and dst. With cmpAll set, verification reads through the
// buffer limits; otherwise it stops at end-of-buffer and falls back to a
// heuristic score.
func New(index *jhash.Index, src, dst jfile.File, size int, cmpAll bool) *Table {
	if size < 13 {
		size = 13
	}
	prime := jhash.LowerPrime(size * 2)

	return &Table{
		index:  index,
		src:    src,
		dst:    dst,
		size:   size,
		free:   size,
		prime:  prime,
		pool:   make([]match, size),
		col:    make([]*match, prime),
		gld:    make([]*match, prime),
		cmpAll: cmpAll,
	}
}

// Repairs returns the number of hash hits that byte comparison exposed
// as accidents.
func (t *Table) Repairs() int { return t.repairs }

// Add records a hit: the index claims source position fndOrg matches
// destination position fndNew, while the driver reads at redNew. The hit
// either refreshes a known candidate (same delta, or same source
// position for gliding runs) or allocates a new one, reusing the oldest
// stale entry when the pool is exhausted.
func (t *Table) Add(fndOrg, fndNew, redNew int64) Verdict {
	var cur *match

	// join colliding matches
	delta := fndOrg - fndNew
	idxCol := int(abs64(delta) % int64(t.prime))
	for cur = t.col[idxCol]; cur != nil; cur = cur.nxtCol {
		if cur.delta == delta {
			if cur.cnt == 1 {
				t.delGld(cur)
			}
			cur.cnt++
			cur.last = fndNew
			break
		}
	}

	// join gliding matches
	var idxGld int
	if cur == nil {
		idxGld = int(fndOrg % int64(t.prime))
		for cur = t.gld[idxGld]; cur != nil; cur = cur.nxtGld {
			if cur.org == fndOrg {
				if cur.cnt == 1 {
					t.delCol(cur)
				}
				cur.cnt++
				cur.last = fndNew

				if cur.glide == 0 {
					if fndNew <= cur.beg+jhash.SampleSize {
						cur.glide = int(fndNew - cur.beg)
					} else {
						cur.glide = jhash.SampleSize
					}
				}
				break
			}
		}
	}

	// a refreshed head of the old list is fresh again
	if cur != nil && t.oldList == cur {
		t.oldList = t.oldList.nxtAge
		t.nextOld()
		t.addNew(cur)
	}

	if cur == nil {
		if t.free > 0 {
			t.free--
			cur = &t.pool[t.free]
		} else if t.oldList != nil {
			cur = t.oldList
			t.oldList = t.oldList.nxtAge
			t.nextOld()

			if cur.cnt == 1 || cur.glide == 0 {
				t.delCol(cur)
			}
			if cur.cnt == 1 || cur.glide != 0 {
				t.delGld(cur)
			}
		} else {
			return Error
		}

		cur.org = fndOrg
		cur.last = fndNew
		cur.beg = fndNew
		cur.delta = delta
		cur.cnt = 1
		cur.glide = 0
		cur.cmp = 0
		cur.tst = -1

		cur.nxtCol = t.col[idxCol]
		t.col[idxCol] = cur
		cur.nxtGld = t.gld[idxGld]
		t.gld[idxGld] = cur
	}

	// evaluate new or skipped entries right away
	ret := Enlarged
	if cur.cnt == 1 || cur.cmp == cmpSkip {
		if cur.cmp == cmpSkip {
			cur.cmp = 0
		}

		ret = t.isGoodOrBest(redNew, cur)
		switch ret {
		case Invalid:
			if cur.tst >= cur.last {
				// fully evaluated invalids go in front of the new list
				// so the allocator can grab them first
				t.repairs++
				cur.cmp = cmpInv
				if cur.cnt == 1 {
					if t.newList == nil {
						t.newTail = cur
					}
					cur.nxtAge = t.newList
					t.newList = cur
				}
				break
			}
			// incompletely evaluated invalids are kept like valids
			fallthrough
		case Valid, Good, Best:
			if cur.cnt == 1 {
				t.addNew(cur)
			}
		}
	}

	if t.free == 0 && t.oldList == nil {
		return Full
	}
	return ret
}

// Cleanup starts a search pass at read position redNew: it merges the
// previous pass's entries into the old list, re-evaluates or skips each
// of them, and prepares the next reusable entry. baseOrg is the oldest
// source position the driver may still jump to.
func (t *Table) Cleanup(baseOrg, redNew int64) Verdict {
	_ = baseOrg

	t.rlb = t.index.Reliability()

	if t.newList != nil {
		t.newTail.nxtAge = t.oldList
		t.oldList = t.newList
		t.newList = nil
		t.newTail = nil
	}

	t.best = nil
	t.oldLimit = redNew

	for cur := t.oldList; cur != nil; cur = cur.nxtAge {
		if t.isOld2Skip(cur, redNew) {
			cur.cmp = cmpSkip
		} else {
			t.isGoodOrBest(redNew, cur)
		}
	}

	t.nextOld()

	switch {
	case t.oldList == nil && t.free == 0:
		return Full
	case t.best == nil:
		return Invalid
	case t.bestNew != redNew:
		return Valid
	case t.bestCmp >= eqlMax:
		return Best
	case t.bestCmp >= eqlSize:
		return Good
	default:
		return Valid
	}
}

// Best returns the elected match. When compare-all is off it first
// rescores end-of-buffer candidates that grew since their last
// evaluation, because those were scored on hit counts alone.
func (t *Table) Best(redOrg, redNew int64) (bstOrg, bstNew int64, ok bool) {
	_ = redOrg

	if !t.cmpAll {
		if t.newList != nil {
			t.newTail.nxtAge = t.oldList
			t.oldList = t.newList
			t.newList = nil
			t.newTail = nil
		}

		bestEOB := false
		for cur := t.oldList; cur != nil; cur = cur.nxtAge {
			if cur != t.best && cur.cmp <= cmpEOB && cur.last > cur.tst &&
				t.isBest(cur, redNew, 0, cur.tst, cur.cmp) {
				bestEOB = true
			}
		}

		if bestEOB && t.bestOrg == 0 {
			tstNew := t.bestNew
			org, _ := t.calcPosOrg(t.best, &tstNew)
			t.bestOrg = org
			t.bestNew = tstNew
		}
	}

	if t.best != nil {
		return t.bestOrg, t.bestNew, true
	}
	return 0, 0, false
}

// isGoodOrBest evaluates one candidate against read position redNew,
// reusing an earlier compare when it still covers the test position and
// comparing bytes otherwise.
func (t *Table) isGoodOrBest(redNew int64, cur *match) Verdict {
	var curCmp int

	tstNew := redNew
	tstOrg, gliding := t.calcPosOrg(cur, &tstNew)

	switch {
	case tstNew <= cur.tst:
		// still before the previous result: reuse it
		curCmp = cur.cmp
		if curCmp == cmpSkip || curCmp == cmpInv {
			curCmp = 0
		}
		if gliding {
			tstNew = cur.tst
			tstOrg = cur.org
		} else {
			tstOrg += cur.tst - tstNew
			tstNew = cur.tst
		}

	case !gliding && cur.cmp > 0 && cur.tst-tstNew+int64(cur.cmp) > eqlMin:
		// inside the previous confirmed run: report the remainder
		curCmp = int(cur.tst - tstNew + int64(cur.cmp))

	default:
		dist := cur.beg - tstNew
		if dist < minDist {
			dist = minDist
		} else if dist > maxDist {
			dist = maxDist
		}

		mode := jfile.SoftAhead
		if t.cmpAll {
			mode = jfile.HardAhead
		}
		glide := 0
		if gliding {
			glide = cur.glide
		}
		tstOrg, tstNew, curCmp = t.check(tstOrg, tstNew, dist, glide, mode)

		cur.tst = tstNew
		if !(cur.cmp == cmpInv && curCmp <= 0) {
			cur.cmp = curCmp
		}
	}

	// a capped compare almost certainly extends to the last seen hit
	if cur.cmp >= eqlMax && cur.last > tstNew+int64(curCmp) {
		curCmp += int(cur.last - tstNew)
	}

	t.isBest(cur, redNew, tstOrg, tstNew, curCmp)

	switch {
	case curCmp == 0:
		return Invalid
	case tstNew != redNew:
		return Valid
	case curCmp >= eqlMax:
		return Best
	case curCmp >= eqlSize:
		return Good
	default:
		return Valid
	}
}

// isBest arbitrates between the proposed solution and the current best.
// End-of-buffer candidates get a virtual score derived from their hit
// count, halved so real compares still beat hash-only evidence.
func (t *Table) isBest(cur *match, redNew, tstOrg, tstNew int64, curCmp int) bool {
	curCnt := -1

	if curCmp <= cmpEOB {
		if cur.glide > 0 {
			curCnt = 1 + cur.cnt/2
		} else {
			curCnt = cur.cnt
		}

		switch {
		case tstNew <= cur.beg:
			// still before the first hit: the solution starts there
			curCmp = curCnt
			tstNew = cur.beg
			tstOrg = cur.org
		case tstNew <= cur.last+int64(t.rlb):
			// between first and last hit: estimate the gap to equality
			curCmp = curCnt
			dist := int64(1 + t.rlb - min(t.rlb, cur.cnt))
			tstNew += dist
			tstOrg += dist
		default:
			// aging: decay the count with the distance
			curCmp = curCnt - 1 - int((tstNew-cur.last)/int64(t.rlb/8))
			dist := int64(curCnt - curCmp)
			tstNew += dist
			tstOrg += dist
		}

		if curCmp < 1 {
			curCmp = 1
		} else {
			curCmp = 1 + min(eqlMax, curCmp)/2
		}

		// keep the score for the aging checks, negated to mark EOB
		if curCmp > 3 {
			cur.cmp = -curCmp
		}
	}

	if curCmp > 0 {
		switch {
		case t.best == nil:
			t.best = cur
		case curCmp < 2 && t.bestCmp > 4:
			// keep: do not displace a real match with a weak one
		case t.bestCmp < 2 && curCmp > 4:
			t.best = cur
		case tstNew+fuzzy < t.bestNew:
			t.best = cur // clearly nearer
		case tstNew <= t.bestNew+fuzzy:
			if tstNew-int64(curCmp) < t.bestNew-int64(t.bestCmp) {
				t.best = cur // reaches further back
			} else if tstNew-int64(curCmp) == t.bestNew-int64(t.bestCmp) {
				if curCnt < 0 {
					if cur.glide > 0 {
						curCnt = cur.cnt / 2
					} else {
						curCnt = cur.cnt
					}
				}
				bstCnt := t.best.cnt
				if t.best.glide > 0 {
					bstCnt = t.best.cnt / 2
				}
				if curCnt > bstCnt {
					t.best = cur
				}
			}
		}

		if t.best == cur {
			t.bestNew = tstNew
			t.bestOrg = tstOrg
			t.bestCmp = curCmp

			// candidates before the elected test position (moved back
			// by an end-of-buffer score) are useless; rlb is kept as a
			// safety range in case a nearer but shorter match shows up
			// later
			t.oldLimit = cur.tst + int64(min(0, cur.cmp)) - int64(t.rlb)
			if t.oldLimit < redNew {
				t.oldLimit = redNew
			}
		}
	}

	return t.best == cur
}

// calcPosOrg maps a destination test position onto the source according
// to the candidate's geometry. The destination position is advanced when
// the source position would become negative. Reports whether the gliding
// mapping applied.
func (t *Table) calcPosOrg(cur *match, tstNew *int64) (int64, bool) {
	if cur.glide > 0 && *tstNew >= cur.beg {
		return cur.org, true
	}
	if *tstNew+cur.delta >= 0 {
		return *tstNew + cur.delta, false
	}
	*tstNew = -cur.delta
	return 0, false
}

// isOld2Skip reports whether a candidate can sit out this pass. Skipping
// trades accuracy for speed, so it only applies when the probability of
// a valid match is really low; a fresh hash hit reactivates the entry.
func (t *Table) isOld2Skip(cur *match, redNew int64) bool {
	switch cur.cmp {
	case cmpSkip:
		return true
	case cmpInv, 0:
		return cur.last+maxDist <= redNew
	default:
		return cur.last+maxDist <= redNew && cur.tst+int64(absInt(cur.cmp)) < redNew
	}
}

// isOld2Reuse reports whether a candidate may be overwritten. Entries
// are never freed, only reused; refusing too eagerly starves the
// allocator and ends the search, reusing too eagerly throws away
// candidates that might still win.
func (t *Table) isOld2Reuse(cur *match) bool {
	switch cur.cmp {
	case cmpSkip, cmpInv:
		return true
	case cmpEOB:
		return cur != t.best && cur.last < t.oldLimit
	case 0:
		return cur.last < cur.tst || cur.last < t.oldLimit
	default:
		return cur != t.best && cur.last < t.oldLimit &&
			cur.tst+int64(absInt(cur.cmp)) < t.oldLimit
	}
}

// nextOld walks the old list until a reusable entry leads it, moving
// still-usable entries back to the new list. When the old list runs dry,
// invalid entries parked on the new list are pulled back for reuse.
func (t *Table) nextOld() bool {
	for t.oldList != nil {
		if t.isOld2Reuse(t.oldList) {
			break
		}
		cur := t.oldList
		t.oldList = t.oldList.nxtAge
		t.addNew(cur)
	}

	if t.oldList == nil && t.newList != nil {
		t.newTail.nxtAge = nil
		cur := t.newList
		for cur != nil && cur.cmp == cmpInv {
			t.newList = cur.nxtAge
			if cur.cnt > 1 && cur.last > cur.tst {
				// an enlarged invalid deserves another look
				cur.cmp = 0
				t.addNew(cur)
			} else {
				cur.nxtAge = t.oldList
				t.oldList = cur
				break
			}
			cur = t.newList
		}
	}

	return t.oldList != nil
}

func (t *Table) addNew(cur *match) {
	if t.newList == nil {
		t.newList = cur
	} else {
		t.newTail.nxtAge = cur
	}
	t.newTail = cur
}

func (t *Table) delCol(cur *match) {
	i := int(abs64(cur.delta) % int64(t.prime))
	if t.col[i] == cur {
		t.col[i] = cur.nxtCol
		return
	}
	for m := t.col[i]; m != nil; m = m.nxtCol {
		if m.nxtCol == cur {
			m.nxtCol = cur.nxtCol
			return
		}
	}
}

func (t *Table) delGld(cur *match) {
	i := int(cur.org % int64(t.prime))
	if t.gld[i] == cur {
		t.gld[i] = cur.nxtGld
		return
	}
	for m := t.gld[i]; m != nil; m = m.nxtGld {
		if m.nxtGld == cur {
			m.nxtGld = cur.nxtGld
			return
		}
	}
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
