// Package counter wraps readers and writers to count the bytes that
// actually pass through them. The diff and patch sinks account for the
// bytes they emit, but once a compressor sits in between, only a
// counting wrapper on the far side knows the on-disk size.
package counter

import "io"

// Callback is invoked with the running total after every operation.
type Callback func(count int64)

// Writer counts bytes written to an underlying writer. A nil underlying
// writer discards the data and just counts.
type Writer struct {
	count   int64
	writer  io.Writer
	onCount Callback
}

// NewWriter wraps w in a counting writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{writer: w}
}

// NewWriterCallback wraps w and reports the total to cb on every write.
func NewWriterCallback(cb Callback, w io.Writer) *Writer {
	return &Writer{writer: w, onCount: cb}
}

// Count returns the number of bytes written so far.
func (w *Writer) Count() int64 {
	return w.count
}

func (w *Writer) Write(buf []byte) (int, error) {
	var n int
	var err error

	if w.writer == nil {
		n = len(buf)
	} else {
		n, err = w.writer.Write(buf)
	}

	w.count += int64(n)
	if w.onCount != nil {
		w.onCount(w.count)
	}
	return n, err
}

// Close closes the underlying writer when it is a closer.
func (w *Writer) Close() error {
	if c, ok := w.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reader counts bytes read from an underlying reader.
type Reader struct {
	count   int64
	reader  io.Reader
	onCount Callback
}

// NewReader wraps r in a counting reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: r}
}

// NewReaderCallback wraps r and reports the total to cb on every read.
func NewReaderCallback(cb Callback, r io.Reader) *Reader {
	return &Reader{reader: r, onCount: cb}
}

// Count returns the number of bytes read so far.
func (r *Reader) Count() int64 {
	return r.count
}

func (r *Reader) Read(buf []byte) (int, error) {
	n, err := r.reader.Read(buf)

	r.count += int64(n)
	if r.onCount != nil {
		r.onCount(r.count)
	}
	return n, err
}
