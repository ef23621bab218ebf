// Package wire defines the patch stream format: the operator alphabet
// and the variable-width length encoding shared by the differ and the
// patcher.
//
// A patch is a sequence of escaped operator records terminated by
// ESC 0x00:
//
//	<patch>      ::= ( <op> )* ESC 0x00
//	<data-op>    ::= ESC <MOD|INS> <byte-run>
//	<length-op>  ::= ESC <DEL|EQL|BKT> <length>
//	<byte-run>   ::= ( <byte except ESC> | ESC ESC )*
//
// A byte-run ends at the next ESC followed by an operator byte. The
// leading ESC MOD of a patch may be omitted: a patch whose first byte is
// not ESC starts with an implicit MOD run.
package wire

// Operator byte values.
const (
	Esc = 0xA7 // escape
	Mod = 0xA6 // modify: replace the next run of bytes
	Ins = 0xA5 // insert: emit a run of bytes, source untouched
	Del = 0xA4 // delete: advance the source cursor
	Eql = 0xA3 // equal: copy from the source
	Bkt = 0xA2 // backtrace: rewind the source cursor
)

// IsOp reports whether b is an operator byte (escape included).
func IsOp(b int) bool {
	return b >= Bkt && b <= Esc
}
