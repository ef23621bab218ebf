// Package jdiff compares two byte streams and emits a compact patch
// such that the patcher, given the source and the patch, reconstructs
// the destination exactly.
//
// The engine streams both files byte for byte. While they agree it
// accumulates an EQL run; on divergence it looks ahead on the
// destination, hashing every sample and probing the source index for
// equal regions, then translates the best candidate into skip, delete or
// backtrace operations and resumes the streaming compare. The patch is
// heuristically small, not minimal.
package jdiff

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	"github.com/pkg/errors"

	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/jhash"
	"github.com/jojodiff/jdiff/jmatch"
	"github.com/jojodiff/jdiff/wire"
)

// ScanMode selects how the source index is built.
type ScanMode int

const (
	// ScanFull streams the whole source up front and indexes every
	// sample (the default).
	ScanFull ScanMode = iota
	// ScanIncremental indexes lazily, extending the index ahead of the
	// read position at each search.
	ScanIncremental
	// ScanOff never extends the index beyond what the main loop feeds
	// it while streaming.
	ScanOff

	scanDone
)

const progressMark = 1024 * 1024

// DiffParams configures a DiffContext. Source, Dest and Output are
// required; zero values elsewhere pick the defaults.
type DiffParams struct {
	Source jfile.File
	Dest   jfile.File
	Output OpWriter

	// IndexSizeMB caps the hash index size in MiB (default 32).
	IndexSizeMB int
	// MatchMax is the match table size and the maximum number of
	// candidates per search (default 128).
	MatchMax int
	// MatchMin is the number of candidates to find before lookahead
	// reads stop extending the buffer (default 2).
	MatchMin int
	// AheadMax is the search window in bytes (default: the destination
	// buffer size, minimum 1024).
	AheadMax int64

	// NoBacktrack limits backtracking to the source bytes still
	// buffered; BKT operations within that window can still occur.
	NoBacktrack bool
	// Lazy restricts candidate verification to buffered data.
	Lazy bool
	// Scan selects the index build strategy.
	Scan ScanMode

	// optional
	Consumer *state.Consumer
}

// DiffContext drives one differencing run.
type DiffContext struct {
	src jfile.File
	dst jfile.File
	out OpWriter

	index    *jhash.Index
	mch      *jmatch.Table
	consumer *state.Consumer

	srcBkt bool
	mchMin int
	mchMax int
	ahdMax int64
	cmpAll bool
	scan   ScanMode

	// incremental source scan state
	hshOrg jhash.Rolling
	ahdOrg int64

	// destination lookahead state
	hshNew jhash.Rolling
	ahdNew int64
	valNew int

	rlb int

	inaccurate int // searches whose solution did not pan out
}

// NewDiffContext validates params and allocates the index and the match
// table. No further allocations happen during Diff.
func NewDiffContext(params DiffParams) (*DiffContext, error) {
	err := validation.ValidateStruct(&params,
		validation.Field(&params.Source, validation.Required),
		validation.Field(&params.Dest, validation.Required),
		validation.Field(&params.Output, validation.Required),
	)
	if err != nil {
		return nil, err
	}

	if params.IndexSizeMB == 0 {
		params.IndexSizeMB = 32
	}
	if params.MatchMax == 0 {
		params.MatchMax = 128
	}
	if params.MatchMin == 0 {
		params.MatchMin = 2
	}
	if params.MatchMin > params.MatchMax {
		params.MatchMin = params.MatchMax - 1
	}
	if params.AheadMax == 0 {
		params.AheadMax = params.Dest.BufSize()
	}
	if params.AheadMax < 1024 {
		params.AheadMax = 1024
	}
	if params.Consumer == nil {
		params.Consumer = &state.Consumer{}
	}

	d := &DiffContext{
		src:      params.Source,
		dst:      params.Dest,
		out:      params.Output,
		consumer: params.Consumer,
		srcBkt:   !params.NoBacktrack,
		mchMin:   params.MatchMin,
		mchMax:   params.MatchMax,
		ahdMax:   params.AheadMax,
		cmpAll:   !params.Lazy,
		scan:     params.Scan,
	}
	d.index = jhash.NewIndex(params.IndexSizeMB)
	d.mch = jmatch.New(d.index, d.src, d.dst, d.mchMax, d.cmpAll)
	d.rlb = d.index.Reliability()
	d.hshOrg.Reset()
	d.hshNew.Reset()

	return d, nil
}

// Index exposes the source index, for statistics.
func (d *DiffContext) Index() *jhash.Index { return d.index }

// Repairs returns the number of hash accidents exposed by comparing.
func (d *DiffContext) Repairs() int { return d.mch.Repairs() }

// Inaccurate returns the number of search solutions that did not lead
// to an equal region.
func (d *DiffContext) Inaccurate() int { return d.inaccurate }

// Diff runs the comparison and writes the edit script to the output
// sink, terminator included.
func (d *DiffContext) Diff() error {
	var posOrg, posNew int64
	var eql int64
	var eqlPending bool

	found := 0
	var ahd, skpOrg, skpNew int64
	lap := int64(progressMark)

	cOrg := d.src.Get(posOrg, jfile.Read)
	cNew := d.dst.Get(posNew, jfile.Read)

	for cNew >= 0 {
		// incremental source scan rides along with the read position
		if (d.scan == ScanIncremental || d.scan == ScanOff) && posOrg == d.ahdOrg {
			d.index.Add(d.hshOrg.Roll(cOrg), d.ahdOrg, d.hshOrg.EqlCount())
			d.ahdOrg++
		}

		switch {
		case cOrg == cNew:
			if !eqlPending {
				// the sink keeps the first bytes in reserve, then we
				// switch to counting as soon as it lets us
				eqlPending = d.out.Put(wire.Eql, 1, cOrg, cNew, posOrg, posNew)
				ahd--

				posOrg++
				cOrg = d.src.Get(posOrg, jfile.Read)
				posNew++
				cNew = d.dst.Get(posNew, jfile.Read)
			} else {
				var cnt int64
				for cOrg == cNew && cNew >= 0 && posNew < lap {
					cnt++
					if (d.scan == ScanIncremental || d.scan == ScanOff) && posOrg == d.ahdOrg {
						d.index.Add(d.hshOrg.Roll(cOrg), d.ahdOrg, d.hshOrg.EqlCount())
						d.ahdOrg++
					}
					posOrg++
					cOrg = d.src.Get(posOrg, jfile.Read)
					posNew++
					cNew = d.dst.Get(posNew, jfile.Read)
				}
				eql += cnt
				ahd -= cnt
			}

		case ahd > 0:
			d.flushEql(&eql, &eqlPending, posOrg, posNew)

			if cOrg < 0 {
				// source exhausted: the rest of the way is inserts
				d.out.Put(wire.Ins, 1, cOrg, cNew, posOrg, posNew)
				ahd--

				posNew++
				cNew = d.dst.Get(posNew, jfile.Read)
			} else {
				for cOrg != cNew && cOrg >= 0 && cNew >= 0 && ahd > 0 {
					d.out.Put(wire.Mod, 1, cOrg, cNew, posOrg, posNew)
					ahd--

					posOrg++
					cOrg = d.src.Get(posOrg, jfile.Read)
					posNew++
					cNew = d.dst.Get(posNew, jfile.Read)
				}
			}

		case found == 1 && ahd == 0:
			// the found solution did not point to an equal region;
			// advance with the overload before searching again
			found = 0
			d.inaccurate++
			ahd = int64(d.index.Reliability() / 2)

		default:
			d.flushEql(&eql, &eqlPending, posOrg, posNew)

			var err error
			skpOrg, skpNew, ahd, found, err = d.search(posOrg, posNew)
			if err != nil {
				return err
			}

			if skpOrg > 0 {
				d.out.Put(wire.Del, skpOrg, 0, 0, posOrg, posNew)
				posOrg += skpOrg
				cOrg = d.src.Get(posOrg, jfile.Read)
			} else if skpOrg < 0 {
				d.out.Put(wire.Bkt, -skpOrg, 0, 0, posOrg, posNew)
				posOrg += skpOrg
				cOrg = d.src.Get(posOrg, jfile.Read)
			}

			for skpNew > 0 && cNew > jfile.EOF {
				d.out.Put(wire.Ins, 1, 0, cNew, posOrg, posNew)
				skpNew--
				posNew++
				cNew = d.dst.Get(posNew, jfile.Read)
			}
		}

		if lap <= posNew {
			d.consumer.ProgressLabel(united.FormatBytes(posNew))
			lap = posNew + progressMark
		}
	}

	d.flushEql(&eql, &eqlPending, posOrg, posNew)
	d.out.Put(wire.Esc, 0, 0, 0, posOrg, posNew)

	if cNew < jfile.EOB || cOrg < jfile.EOB {
		if cNew < cOrg {
			return d.sentinelErr(d.dst, "destination", cNew)
		}
		return d.sentinelErr(d.src, "source", cOrg)
	}

	return d.out.Err()
}

func (d *DiffContext) flushEql(eql *int64, pending *bool, posOrg, posNew int64) {
	if *eql > 0 {
		d.out.Put(wire.Eql, *eql, 0, 0, posOrg-*eql, posNew-*eql)
		*eql = 0
	}
	*pending = false
}

// sentinelErr converts a hard reader sentinel into an error.
func (d *DiffContext) sentinelErr(f jfile.File, name string, code int) error {
	if err := f.Error(); err != nil {
		return errors.Wrapf(err, "reading %s", name)
	}
	switch code {
	case jfile.ErrSeek:
		return errors.Errorf("seek failed on %s", name)
	default:
		return errors.Errorf("read failed on %s (code %d)", name, code)
	}
}
