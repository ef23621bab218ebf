// Package jpatch applies a patch stream to a source, reconstructing the
// destination it was diffed against.
//
// The decoder follows the wire package grammar: EQL copies bytes from
// the source, MOD and INS emit literal runs from the patch, DEL and BKT
// move the source cursor without producing output. A patch whose first
// byte is not an escape starts with an implicit MOD run.
package jpatch

import (
	"bufio"
	"io"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/itchio/headway/state"
	"github.com/itchio/savior"
	"github.com/pkg/errors"

	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/wire"
)

// decoder pseudo-operators, distinct from the wire alphabet
const (
	opEOF  = -1 // patch exhausted
	opDone = -2 // terminator seen
)

// PatchParams configures a PatchContext. All three streams are required.
type PatchParams struct {
	// Source is the byte-addressed original the patch was diffed from.
	Source jfile.File
	// Patch is the patch stream; it is resumed once at Apply time.
	Patch savior.SeekSource
	// Output receives the reconstructed destination.
	Output io.Writer

	// optional
	Consumer *state.Consumer
}

// PatchContext drives one patch application.
type PatchContext struct {
	src      jfile.File
	patch    savior.SeekSource
	consumer *state.Consumer

	out *bufio.Writer
	err error

	posOrg int64
	posOut int64
}

// NewPatchContext validates params.
func NewPatchContext(params PatchParams) (*PatchContext, error) {
	err := validation.ValidateStruct(&params,
		validation.Field(&params.Source, validation.Required),
		validation.Field(&params.Patch, validation.Required),
		validation.Field(&params.Output, validation.Required),
	)
	if err != nil {
		return nil, err
	}

	if params.Consumer == nil {
		params.Consumer = &state.Consumer{}
	}

	return &PatchContext{
		src:      params.Source,
		patch:    params.Patch,
		consumer: params.Consumer,
		out:      bufio.NewWriter(params.Output),
	}, nil
}

// OutputSize returns the number of bytes reconstructed so far.
func (p *PatchContext) OutputSize() int64 { return p.posOut }

// Apply reads the patch and writes the reconstructed destination.
func (p *PatchContext) Apply() error {
	if _, err := p.patch.Resume(nil); err != nil {
		return errors.WithStack(err)
	}

	opr := 0
	pnd, dbl := opEOF, opEOF

	for opr != opEOF && opr != opDone {
		if opr == 0 {
			c := p.readByte()
			if c == opEOF {
				break
			}

			if c == wire.Esc {
				d := p.readByte()
				switch d {
				case wire.Eql, wire.Del, wire.Bkt, wire.Mod, wire.Ins:
					opr = d
					pnd, dbl = opEOF, opEOF
				case 0x00:
					opr = opDone
					continue
				case opEOF:
					return errors.New("unexpected trailing byte at end of patch")
				default:
					// ESC ESC or ESC <non-op> at the start of a run:
					// an implicit MOD with two pending data bytes
					opr = wire.Mod
					pnd, dbl = c, d
				}
			} else {
				opr = wire.Mod
				pnd, dbl = c, opEOF
			}
		} else {
			pnd, dbl = opEOF, opEOF
		}

		var err error
		switch opr {
		case wire.Mod, wire.Ins:
			opr, err = p.runData(opr, pnd, dbl)

		case wire.Del:
			var n int64
			n, err = wire.ReadLen(p)
			p.posOrg += n
			opr = 0

		case wire.Bkt:
			var n int64
			n, err = wire.ReadLen(p)
			p.posOrg -= n
			opr = 0

		case wire.Eql:
			var n int64
			n, err = wire.ReadLen(p)
			if err == nil {
				err = p.copyFromSource(n)
			}
			opr = 0
		}
		if err != nil {
			return err
		}
	}

	if p.err != nil {
		return p.err
	}
	if err := p.out.Flush(); err != nil {
		return errors.WithStack(err)
	}

	p.consumer.Debugf("reconstructed %d bytes", p.posOut)
	return nil
}

// runData consumes a MOD or INS byte-run, emitting literals until the
// next operator. Returns that operator, opDone on the terminator, or
// opEOF at the end of the patch.
func (p *PatchContext) runData(opr, pnd, dbl int) (int, error) {
	var n int64
	put := func(c int) {
		if err := p.out.WriteByte(byte(c)); err != nil && p.err == nil {
			p.err = errors.WithStack(err)
		}
		n++
	}

	// pending bytes from operator detection:
	//   pnd dbl        output
	//   ESC ESC        one ESC
	//   ESC xxx        ESC xxx
	//   xxx --         xxx
	if pnd != opEOF {
		put(pnd)
		if pnd == wire.Esc && dbl != wire.Esc {
			put(dbl)
		}
	}

	next := opEOF
loop:
	for {
		c := p.readByte()
		switch {
		case c == opEOF:
			break loop

		case c == wire.Esc:
			d := p.readByte()
			switch {
			case d == wire.Esc:
				// doubled escape: one data ESC
				put(wire.Esc)

			case d == opr:
				// an escaped repeat of the current operator is
				// meaningless: both bytes are data
				put(wire.Esc)
				put(d)

			case wire.IsOp(d):
				next = d
				break loop

			case d == 0x00:
				next = opDone
				break loop

			case d == opEOF:
				break loop

			default:
				// ESC before a non-operator byte: both pass through
				put(wire.Esc)
				put(d)
			}

		default:
			put(c)
		}
	}

	p.posOut += n
	if opr == wire.Mod {
		p.posOrg += n
	}
	return next, p.err
}

// copyFromSource copies n bytes from the source at the current cursor,
// through the buffered window when possible.
func (p *PatchContext) copyFromSource(n int64) error {
	p.posOut += n
	for n > 0 {
		buf, _ := p.src.GetBuf(p.posOrg, jfile.Read)
		if buf == nil {
			c := p.src.Get(p.posOrg, jfile.Read)
			if c < 0 {
				if err := p.src.Error(); err != nil {
					return errors.Wrap(err, "reading source")
				}
				return errors.Errorf("patch refers past the end of the source (position %d)", p.posOrg)
			}
			if err := p.out.WriteByte(byte(c)); err != nil {
				return errors.WithStack(err)
			}
			p.posOrg++
			n--
			continue
		}

		if int64(len(buf)) > n {
			buf = buf[:n]
		}
		if _, err := p.out.Write(buf); err != nil {
			return errors.WithStack(err)
		}
		p.posOrg += int64(len(buf))
		n -= int64(len(buf))
	}
	return nil
}

// ReadByte feeds wire.ReadLen from the patch stream.
func (p *PatchContext) ReadByte() (byte, error) {
	c, err := p.patch.ReadByte()
	if err != nil {
		return 0, errors.Wrap(err, "reading patch")
	}
	return c, nil
}

func (p *PatchContext) readByte() int {
	c, err := p.patch.ReadByte()
	if err != nil {
		if err != io.EOF && p.err == nil {
			p.err = errors.Wrap(err, "reading patch")
		}
		return opEOF
	}
	return int(c)
}
