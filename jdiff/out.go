package jdiff

import (
	"bufio"
	"io"

	"github.com/jojodiff/jdiff/wire"
)

// OpWriter consumes the stream of edit operations produced by the
// differ. EQL, MOD and INS arrive one byte at a time so the sink can
// coalesce runs; DEL and BKT arrive with their length; an Esc with
// length 0 terminates the stream.
//
// Put returns true for Put(Eql, 1, ...) once the sink no longer needs
// the byte values of the run: from then on the caller may count equal
// bytes itself and flush them in one Put(Eql, n, ...) call.
type OpWriter interface {
	Put(op int, length int64, cOrg, cNew int, posOrg, posNew int64) bool

	// Flush writes out anything the sink still holds back.
	Flush() error

	// Err returns the first write error encountered.
	Err() error
}

// Stats counts emitted patch bytes by class.
type Stats struct {
	Data    int64 // literal data bytes (MOD and INS runs)
	Control int64 // operator and length bytes
	Escaped int64 // extra bytes spent doubling in-data escapes
	Eql     int64 // bytes covered by EQL operators
	Del     int64 // bytes covered by DEL operators
	Bkt     int64 // bytes covered by BKT operators
}

// the first bytes of an equal run are kept in reserve: a run short
// enough to fit the reserve, squeezed between two MOD stretches, is
// cheaper re-emitted as MOD data than as an EQL operator
const eqlReserve = 2

// BinWriter emits the binary patch stream per the wire package grammar.
type BinWriter struct {
	w   *bufio.Writer
	err error

	cur     int // operator of the open data run (Mod or Ins), else 0
	started bool

	eqlCnt int64
	eqlBuf [eqlReserve]byte

	stats Stats
}

var _ OpWriter = (*BinWriter)(nil)

// NewBinWriter returns a patch sink writing to w.
func NewBinWriter(w io.Writer) *BinWriter {
	return &BinWriter{w: bufio.NewWriter(w)}
}

// Stats returns the byte accounting so far.
func (b *BinWriter) Stats() Stats { return b.stats }

func (b *BinWriter) Err() error { return b.err }

func (b *BinWriter) Flush() error {
	if err := b.w.Flush(); err != nil && b.err == nil {
		b.err = err
	}
	return b.err
}

func (b *BinWriter) Put(op int, length int64, cOrg, cNew int, posOrg, posNew int64) bool {
	switch op {
	case wire.Eql:
		if b.eqlCnt < eqlReserve && length == 1 {
			b.eqlBuf[b.eqlCnt] = byte(cOrg)
			b.eqlCnt++
			return false
		}
		b.eqlCnt += length
		return true

	case wire.Mod:
		// a short equal reserve between two MOD stretches rides along
		// as data; anything else becomes a real EQL operator
		if b.eqlCnt > 0 {
			if b.cur == wire.Mod && b.eqlCnt <= eqlReserve {
				for _, c := range b.eqlBuf[:b.eqlCnt] {
					b.putData(int(c))
				}
				b.eqlCnt = 0
			} else {
				b.flushEql()
			}
		}
		b.openData(wire.Mod)
		b.putData(cNew)

	case wire.Ins:
		b.flushEql()
		b.openData(wire.Ins)
		b.putData(cNew)

	case wire.Del:
		b.flushEql()
		b.putOp(wire.Del)
		b.putLen(length)
		b.stats.Del += length
		b.cur = 0

	case wire.Bkt:
		b.flushEql()
		b.putOp(wire.Bkt)
		b.putLen(length)
		b.stats.Bkt += length
		b.cur = 0

	case wire.Esc:
		// stream terminator
		b.flushEql()
		b.putByte(wire.Esc)
		b.putByte(0)
		b.stats.Control += 2
		b.cur = 0
		b.Flush()
	}

	return false
}

func (b *BinWriter) flushEql() {
	if b.eqlCnt == 0 {
		return
	}
	b.putOp(wire.Eql)
	b.putLen(b.eqlCnt)
	b.stats.Eql += b.eqlCnt
	b.eqlCnt = 0
	b.cur = 0
}

// openData starts a MOD or INS run. The very first operator of the
// stream, when MOD, stays implicit.
func (b *BinWriter) openData(op int) {
	if b.cur == op {
		return
	}
	if op == wire.Mod && !b.started {
		b.started = true
		b.cur = op
		return
	}
	b.putOp(op)
	b.cur = op
}

func (b *BinWriter) putOp(op int) {
	b.putByte(wire.Esc)
	b.putByte(byte(op))
	b.stats.Control += 2
	b.started = true
}

func (b *BinWriter) putData(c int) {
	if c == wire.Esc {
		b.putByte(wire.Esc)
		b.putByte(wire.Esc)
		b.stats.Escaped++
		b.stats.Data++
	} else {
		b.putByte(byte(c))
		b.stats.Data++
	}
	b.started = true
}

func (b *BinWriter) putLen(n int64) {
	if err := wire.WriteLen(b.w, n); err != nil && b.err == nil {
		b.err = err
	}
	b.stats.Control += lenSize(n)
}

func lenSize(n int64) int64 {
	switch {
	case n <= 252:
		return 1
	case n <= 508:
		return 2
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func (b *BinWriter) putByte(c byte) {
	if err := b.w.WriteByte(c); err != nil && b.err == nil {
		b.err = err
	}
}
