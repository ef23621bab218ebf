package jdiff

import (
	"fmt"
	"io"

	"github.com/jojodiff/jdiff/wire"
)

// RegionWriter is an OpWriter producing a human-readable listing of the
// edit script, one line per region, instead of a binary patch. It keeps
// the same overhead accounting as BinWriter so the statistics stay
// comparable.
type RegionWriter struct {
	w   io.Writer
	err error

	cur int
	cnt int64

	stats Stats
}

var _ OpWriter = (*RegionWriter)(nil)

// NewRegionWriter returns a reporting sink writing lines to w.
func NewRegionWriter(w io.Writer) *RegionWriter {
	return &RegionWriter{w: w, cur: wire.Esc}
}

// Stats returns the byte accounting so far.
func (r *RegionWriter) Stats() Stats { return r.stats }

func (r *RegionWriter) Err() error { return r.err }

func (r *RegionWriter) Flush() error { return r.err }

func (r *RegionWriter) Put(op int, length int64, cOrg, cNew int, posOrg, posNew int64) bool {
	if op != r.cur {
		switch r.cur {
		case wire.Mod:
			r.stats.Data += r.cnt
			r.stats.Control += 2
			r.line(posOrg-r.cnt, posNew-r.cnt, "MOD")
		case wire.Ins:
			r.stats.Data += r.cnt
			r.stats.Control += 2
			r.line(posOrg, posNew-r.cnt, "INS")
		case wire.Del:
			r.stats.Del += r.cnt
			r.stats.Control += 2 + lenSize(r.cnt)
			r.line(posOrg-r.cnt, posNew, "DEL")
		case wire.Bkt:
			r.stats.Bkt += r.cnt
			r.stats.Control += 2 + lenSize(r.cnt)
			r.line(posOrg+r.cnt, posNew, "BKT")
		case wire.Eql:
			r.stats.Eql += r.cnt
			r.stats.Control += 2 + lenSize(r.cnt)
			r.line(posOrg-r.cnt, posNew-r.cnt, "EQL")
		}
		r.cur = op
		r.cnt = 0
	}

	switch op {
	case wire.Mod, wire.Ins:
		if cNew == wire.Esc {
			r.stats.Escaped++
		}
		r.cnt += length
	case wire.Del, wire.Bkt, wire.Eql:
		r.cnt += length
	}

	// region grouping never needs per-byte detail
	return true
}

func (r *RegionWriter) line(posOrg, posNew int64, op string) {
	if _, err := fmt.Fprintf(r.w, "%12d %12d %s %d\n", posOrg, posNew, op, r.cnt); err != nil && r.err == nil {
		r.err = err
	}
}
