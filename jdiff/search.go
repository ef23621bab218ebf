package jdiff

import (
	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/jhash"
	"github.com/jojodiff/jdiff/jmatch"
)

// search reads ahead on the destination until equal regions show up,
// then names the displacement towards the nearest one: skpOrg bytes to
// skip (or backtrace, when negative) on the source, skpNew bytes to
// insert from the destination, and ahd bytes to advance on both before
// the equal region starts. found is 1 when a solution was elected.
func (d *DiffContext) search(redOrg, redNew int64) (skpOrg, skpNew, ahd int64, found int, err error) {
	switch d.scan {
	case ScanFull:
		if err = d.buildFullIndex(); err != nil {
			return 0, 0, 0, 0, err
		}
		d.scan = scanDone
		d.rlb = d.index.Reliability()

	case ScanIncremental:
		d.prescan(redOrg)
	}

	// Look ahead as far as the window allows. In theory no solution
	// lives beyond the reliability distance, but the estimate is an
	// average: using the whole window costs nothing and rescues the
	// cases where a solution hides deeper. Once enough candidates are
	// in, the lookahead shrinks back to the reliability distance.
	var max int64
	if d.ahdNew > redNew {
		max = d.ahdMax - (d.ahdNew - redNew)
	} else {
		max = d.ahdMax
	}
	if max < int64(d.rlb) {
		max = int64(d.rlb)
	}

	// Looking back costs nothing either: it keeps the match table warm
	// and often saves a hash reinitialization.
	back := redNew - d.ahdNew
	if back < 0 {
		back = 0
	} else if back > int64(d.rlb+2*jhash.SampleSize-1) {
		back = int64(d.rlb + 2*jhash.SampleSize - 1)
	}

	var baseOrg int64
	if !d.srcBkt {
		baseOrg = d.src.BufPos()
	}

	switch d.mch.Cleanup(baseOrg, redNew) {
	case jmatch.Error, jmatch.Full:
		found = d.mchMax
	case jmatch.Best, jmatch.Good:
		// a good match is already in hand: reduce the effort
		if max > 2*int64(d.rlb) {
			max = 2 * int64(d.rlb)
		}
	}

	if found < d.mchMax {
		d.dst.SetLookaheadBase(redNew)

		mode := jfile.HardAhead
		if found >= d.mchMin {
			mode = jfile.SoftAhead
		}

		// Reinitialize the hash when the ahead cursor was reset or the
		// read position jumped past it.
		if d.ahdNew == 0 || d.ahdNew+back < redNew {
			d.ahdNew = d.dst.BufPos()
			if redNew > d.ahdNew+back {
				d.ahdNew = redNew - back
				if d.ahdNew < 0 {
					d.ahdNew = 0
				}
			}

			// At stream start the equal-tail counter is correct from
			// the first byte, so one sample less suffices.
			var replay int64
			if d.ahdNew == 0 {
				replay = jhash.SampleSize - 1
			} else {
				replay = 2*jhash.SampleSize - 1
			}

			d.ahdNew--
			d.hshNew.Reset()
			for i := int64(0); i < replay; i++ {
				d.ahdNew++
				d.valNew = d.dst.Get(d.ahdNew, mode)
				if d.valNew <= jfile.EOF {
					d.ahdNew--
					break
				}
				d.hshNew.Roll(d.valNew)

				// The first bytes replayed under an unknown equal-tail
				// cannot be trusted; as soon as the counter resets we
				// know it is exact and one more sample finishes the
				// job.
				if int64(d.hshNew.EqlCount()) != i && replay > i+jhash.SampleSize-1 {
					replay = i + jhash.SampleSize - 1
				}
			}
		}

		if d.ahdNew < redNew {
			max += redNew - d.ahdNew
		}

		for max > 0 {
			d.ahdNew++
			d.valNew = d.dst.Get(d.ahdNew, mode)
			if d.valNew <= jfile.EOF {
				d.ahdNew--
				break
			}
			key := d.hshNew.Roll(d.valNew)
			max--

			org, ok := d.index.Get(key)
			if !ok || org < baseOrg {
				continue
			}

			switch d.mch.Add(org, d.ahdNew, redNew) {
			case jmatch.Error, jmatch.Full:
				max = 0
				continue

			case jmatch.Enlarged, jmatch.Invalid:
				// nothing to do

			case jmatch.Best, jmatch.Good:
				// The first good solution is not always the best one,
				// but a better one must hide within the reliability
				// distance: beyond it, all solutions would have been
				// indexed and found already.
				if max > int64(d.rlb) {
					max = int64(d.rlb)
				}
				fallthrough

			case jmatch.Valid:
				found++
				if d.ahdNew > redNew {
					if found >= d.mchMin {
						mode = jfile.SoftAhead
					}
					if found >= d.mchMax {
						max = 0
						continue
					}
				}
			}
		}
	}

	if d.valNew < jfile.EOB {
		return 0, 0, 0, 0, d.sentinelErr(d.dst, "destination", d.valNew)
	}

	fndOrg, fndNew, ok := d.mch.Best(redOrg, redNew)
	if !ok {
		// No solution. Iterating over the same window again makes no
		// sense, so move forward at least one sample.
		ahd = d.ahdNew - redNew
		if ahd < jhash.SampleSize {
			ahd = jhash.SampleSize
		}
		return 0, 0, ahd, 0, nil
	}

	if fndOrg >= redOrg {
		if fndOrg-redOrg >= fndNew-redNew {
			// forward on the source
			skpOrg = (fndOrg - redOrg) - (fndNew - redNew)
			skpNew = 0
			ahd = fndNew - redNew
		} else {
			// forward on the destination
			skpOrg = 0
			skpNew = (fndNew - redNew) - (fndOrg - redOrg)
			ahd = fndOrg - redOrg
		}
	} else {
		// backtrack on the source, clamped at the oldest allowed base
		skpOrg = (redOrg - fndOrg) + (fndNew - redNew)
		if skpOrg <= redOrg-baseOrg {
			skpNew = 0
			skpOrg = -skpOrg
			ahd = fndNew - redNew
		} else {
			skpNew = skpOrg - (redOrg - baseOrg)
			skpOrg = baseOrg - redOrg
			ahd = (fndNew - redNew) - skpNew
		}
	}

	return skpOrg, skpNew, ahd, 1, nil
}

// prescan keeps the incremental index ahead of the read position. With
// backtracking allowed, each call indexes up to ahdMax more bytes;
// without it, the index reaches ahdMax near the stream start and
// ahdMax/2 past the read position afterwards. Soft reads stop it at the
// source's lookahead limit.
func (d *DiffContext) prescan(redOrg int64) {
	d.src.SetLookaheadBase(redOrg)

	var max int64
	if d.srcBkt {
		max = d.ahdMax
	} else {
		if d.ahdOrg < d.ahdMax/2 {
			max = d.ahdMax - d.ahdOrg
		} else {
			max = d.ahdMax/2 - (d.ahdOrg - redOrg)
		}
	}

	for ; max > 0; max-- {
		c := d.src.Get(d.ahdOrg, jfile.SoftAhead)
		if c <= jfile.EOF {
			break
		}
		d.index.Add(d.hshOrg.Roll(c), d.ahdOrg, d.hshOrg.EqlCount())
		d.ahdOrg++
	}

	d.rlb = d.index.Reliability()
}

// buildFullIndex streams the whole source and indexes every sample.
func (d *DiffContext) buildFullIndex() error {
	d.consumer.ProgressLabel("indexing")

	var hsh jhash.Rolling
	hsh.Reset()

	pos := int64(-1)
	c := 0

	// warm up the hash over the first sample
	for i := 0; i < jhash.SampleSize-1; i++ {
		pos++
		c = d.src.Get(pos, jfile.HardAhead)
		if c <= jfile.EOF {
			break
		}
		hsh.Roll(c)
	}

	for c > jfile.EOF {
		pos++
		c = d.src.Get(pos, jfile.HardAhead)
		if c <= jfile.EOF {
			break
		}
		d.index.Add(hsh.Roll(c), pos, hsh.EqlCount())
	}

	if c < jfile.EOB {
		return d.sentinelErr(d.src, "source", c)
	}

	d.consumer.ProgressLabel("comparing")
	return nil
}
