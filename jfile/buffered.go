package jfile

import (
	"io"
	"math"
)

const (
	// DefaultBufSize is the default window size per file.
	DefaultBufSize = 1024 * 1024
	// DefaultBlockSize is the default granularity of reads and seeks.
	DefaultBlockSize = 8192
)

// Buffered is a File over an io.ReadSeeker, keeping a circular window of
// recently read bytes. The window follows the reader forward; in
// non-sequential mode it can also scroll backward one block at a time,
// so lookbehind within roughly one window does not discard the buffer.
type Buffered struct {
	r   io.ReadSeeker
	seq bool

	buf     []byte
	blkSize int

	inp     int   // window index of the next byte to read from the stream
	bufUsed int64 // valid bytes in the window, ending at posInp
	posInp  int64 // stream position of the next unread byte
	posBase int64 // base position for soft reading
	posEOF  int64 // discovered end of stream, MaxInt64 until known
	off     int64 // current position of the underlying stream

	// fast path state: a contiguous run already located in the window
	posRed  int64
	redSize int64
	red     int

	seeks int64
	err   error
}

var _ File = (*Buffered)(nil)

// internal fill results, aligned with the Get sentinel space
const filled = 0

// New returns a Buffered window over r. Zero sizes pick the defaults; a
// buffer size misaligned with the block size is rounded down. Pass
// sequential for streams that cannot seek backwards (pipes, stdin).
func New(r io.ReadSeeker, bufSize int64, blkSize int, sequential bool) *Buffered {
	if blkSize <= 0 {
		blkSize = DefaultBlockSize
	}
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	bufSize -= bufSize % int64(blkSize)
	if bufSize == 0 {
		bufSize = int64(blkSize)
	}

	return &Buffered{
		r:       r,
		seq:     sequential,
		buf:     make([]byte, bufSize),
		blkSize: blkSize,
		posEOF:  math.MaxInt64,
	}
}

func (b *Buffered) Sequential() bool { return b.seq }

func (b *Buffered) BufSize() int64 { return int64(len(b.buf)) }

func (b *Buffered) BufPos() int64 { return b.posInp - b.bufUsed }

func (b *Buffered) SeekCount() int64 { return b.seeks }

func (b *Buffered) Error() error { return b.err }

func (b *Buffered) SetLookaheadBase(base int64) {
	b.posBase = base
}

func (b *Buffered) Get(pos int64, mode Mode) int {
	if mode == SoftAhead && pos > b.posBase+int64(len(b.buf))-int64(b.blkSize) {
		return EOB
	}
	if pos == b.posRed && b.redSize > 0 {
		b.posRed++
		b.redSize--
		c := b.buf[b.red]
		b.red++
		return int(c)
	}
	return b.getFromWindow(pos, mode)
}

func (b *Buffered) GetBuf(pos int64, mode Mode) ([]byte, int) {
	// filling may move the window, so the pending fast-path run cannot
	// be trusted afterwards
	b.posRed = -1
	b.redSize = 0

	if mode == SoftAhead && pos > b.posBase+int64(len(b.buf))-int64(b.blkSize) {
		return nil, EOB
	}
	i, n, code := b.locate(pos, mode)
	if code != filled {
		return nil, code
	}
	return b.buf[i : int64(i)+n], filled
}

func (b *Buffered) getFromWindow(pos int64, mode Mode) int {
	i, n, code := b.locate(pos, mode)
	if code != filled {
		b.posRed = -1
		b.redSize = 0
		return code
	}

	// prepare the fast path for the bytes that follow; the run never
	// wraps, locate caps n at the window end
	b.posRed = pos + 1
	b.redSize = n - 1
	b.red = i + 1
	if b.red == len(b.buf) {
		b.red = 0
	}

	return int(b.buf[i])
}

// locate brings pos into the window if needed and returns the window
// index holding it together with the contiguous length available there.
func (b *Buffered) locate(pos int64, mode Mode) (int, int64, int) {
	if pos >= b.posEOF {
		return 0, 0, EOF
	}
	if pos >= b.posInp || pos < b.posInp-b.bufUsed {
		if code := b.fill(pos, mode); code != filled {
			return 0, 0, code
		}
	}

	back := b.posInp - pos
	if back <= int64(b.inp) {
		return b.inp - int(back), back, filled
	}
	i := b.inp + len(b.buf) - int(back)
	return i, int64(len(b.buf) - i), filled
}

// fill retrieves pos into the window, invalidating as little of the
// window as possible.
func (b *Buffered) fill(pos int64, mode Mode) int {
	switch {
	case pos < b.posInp-b.bufUsed:
		// Reading before the start of the window: not allowed in soft
		// mode nor on sequential streams. Close by, scroll the window
		// back a few blocks; far away, drop it entirely.
		if mode == SoftAhead {
			return EOB
		}
		if b.seq {
			if mode == HardAhead {
				return EOB
			}
			return ErrSeek
		}
		if pos+int64(len(b.buf))-int64(b.blkSize) > b.posInp-b.bufUsed {
			return b.scrollback(pos)
		}
		return b.reset(pos)

	case pos >= b.posInp+int64(len(b.buf)):
		// Advancing more than a whole window: drop and restart.
		if mode == SoftAhead {
			return EOB
		}
		return b.reset(pos)

	default:
		if mode == SoftAhead && pos > b.posBase+int64(len(b.buf))-int64(b.blkSize) {
			return EOB
		}
		return b.appendTo(pos)
	}
}

func (b *Buffered) reset(pos int64) int {
	if !b.seq {
		b.posInp = (pos / int64(b.blkSize)) * int64(b.blkSize)
	} else {
		// jump forward, then append: keeps the window as full as possible
		b.posInp = ((pos - int64(len(b.buf)) + int64(b.blkSize)) / int64(b.blkSize)) * int64(b.blkSize)
		if b.posInp < 0 {
			b.posInp = 0
		}
	}

	b.inp = 0
	b.posBase = b.posInp
	b.bufUsed = 0

	if !b.seekTo(b.posInp) {
		return ErrSeek
	}

	inp, at, code := b.readblocks(b.inp, b.posInp, pos)
	b.inp = inp
	b.posInp = at
	return code
}

func (b *Buffered) appendTo(pos int64) int {
	inp, at, code := b.readblocks(b.inp, b.posInp, pos)
	b.inp = inp
	b.posInp = at
	return code
}

func (b *Buffered) scrollback(pos int64) int {
	blk := int64(b.blkSize)
	p := (pos / blk) * blk
	length := b.posInp - p
	inpIdx := b.inp - int(length)
	if length > int64(b.inp) {
		inpIdx += len(b.buf)
	}

	// make room when the scrollback would overlap the window head
	if length > int64(len(b.buf)) {
		length -= int64(len(b.buf))
		b.bufUsed -= length
		b.posInp = p + int64(len(b.buf))
		if length > int64(b.inp) {
			inpIdx += len(b.buf)
		}
		b.inp = inpIdx
	}

	if !b.seekTo(p) {
		return ErrSeek
	}

	end := b.posInp - b.bufUsed - 1
	_, _, code := b.readblocks(inpIdx, p, end)
	if code != filled {
		// a scrollback only fails when the file shrinks underneath us
		return ErrRead
	}

	if !b.seekTo(b.posInp) {
		return ErrSeek
	}
	return filled
}

// readblocks reads block-aligned chunks until at > end, wrapping at the
// window boundary. Returns the advanced window index and position, plus
// EOF when end lies at or past the end of the stream.
func (b *Buffered) readblocks(inp int, at int64, end int64) (int, int64, int) {
	for at <= end {
		todo := b.blkSize
		if inp == len(b.buf) {
			inp = 0
		} else if len(b.buf)-inp < todo {
			todo = len(b.buf) - inp
		}

		done := b.read(b.buf[inp : inp+todo])
		inp += done
		at += int64(done)
		b.bufUsed += int64(done)

		if done < todo {
			if b.err != nil {
				return inp, at, ErrRead
			}
			b.posEOF = at
			if b.bufUsed > int64(len(b.buf)) {
				b.bufUsed = int64(len(b.buf))
			}
			if end >= b.posEOF {
				return inp, at, EOF
			}
			return inp, at, filled
		}
	}

	if b.bufUsed > int64(len(b.buf)) {
		b.bufUsed = int64(len(b.buf))
	}
	return inp, at, filled
}

func (b *Buffered) read(p []byte) int {
	n, err := io.ReadFull(b.r, p)
	b.off += int64(n)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		b.err = err
	}
	return n
}

func (b *Buffered) seekTo(pos int64) bool {
	if pos == b.off {
		return true
	}
	if b.seq {
		if pos < b.off {
			return false
		}
		// skip forward by reading
		skip := pos - b.off
		var scratch [512]byte
		for skip > 0 {
			n := int64(len(scratch))
			if n > skip {
				n = skip
			}
			done, err := io.ReadFull(b.r, scratch[:n])
			b.off += int64(done)
			skip -= int64(done)
			if err != nil {
				b.err = err
				return false
			}
		}
		return true
	}

	if _, err := b.r.Seek(pos, io.SeekStart); err != nil {
		b.err = err
		return false
	}
	b.off = pos
	b.seeks++
	return true
}
