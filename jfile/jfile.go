// Package jfile presents input streams as byte-addressed sources.
//
// The differencing engine reads by absolute position: it streams forward
// over both files, looks ahead to find equal regions, then comes back to
// the base position for the actual comparison. A File hides whether the
// underlying stream supports that access pattern natively or needs a
// buffer to fake it.
package jfile

// Mode selects how far Get may go to satisfy a read.
type Mode int

const (
	// Read seeks and reads as needed; it never returns EOB.
	Read Mode = iota
	// HardAhead extends the buffer forward, freeing earlier bytes, but
	// refuses to seek backwards on a sequential stream.
	HardAhead
	// SoftAhead never discards buffered data: it reports EOB before the
	// window and past base + window - block, and reads forward from the
	// stream only within that limit.
	SoftAhead
)

// Sentinels returned by Get instead of a byte value. They stay negative
// integers rather than errors so the compare loops can branch on a single
// comparison; Error exposes the underlying cause for the two hard ones.
const (
	EOF     = -1
	EOB     = -2
	ErrSeek = -6
	ErrRead = -8
)

// File is a byte-addressed input source.
type File interface {
	// Get returns the byte at pos (0..255), or a negative sentinel.
	Get(pos int64, mode Mode) int

	// GetBuf returns a slice of buffered bytes starting at pos, as long
	// as contiguously available, for bulk copies and fast compares. When
	// it cannot serve the position it returns (nil, sentinel).
	GetBuf(pos int64, mode Mode) ([]byte, int)

	// SetLookaheadBase moves the base position: soft reads past
	// base + window - block fail with EOB.
	SetLookaheadBase(base int64)

	// BufPos returns the first buffered position.
	BufPos() int64

	// BufSize returns the window size in bytes.
	BufSize() int64

	// Sequential reports whether backward seeks are impossible.
	Sequential() bool

	// SeekCount returns the number of seeks performed so far.
	SeekCount() int64

	// Error returns the underlying I/O error behind the last ErrSeek or
	// ErrRead sentinel, nil otherwise.
	Error() error
}
