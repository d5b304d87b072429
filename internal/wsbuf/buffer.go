// Package wsbuf provides the grow-only, compact-on-empty byte buffer that
// backs a connection's rx/tx regions. Capacity is retained across
// Compact calls so a connection handling repeated messages of similar
// size settles into zero further growth.
package wsbuf

import "github.com/valyala/bytebufferpool"

// Buffer is a contiguous byte region with independent read and write
// cursors. Bytes between the read and write cursor are "unread" data
// available to a parser; bytes written past the write cursor extend
// the region, growing the backing array only when capacity is
// exhausted.
type Buffer struct {
	bb   bytebufferpool.ByteBuffer
	read int
}

// Reset discards all buffered data and rewinds both cursors. The
// backing array is retained, so the next Grow/Write reuses it.
func (b *Buffer) Reset() {
	b.bb.Reset()
	b.read = 0
}

// Unread returns the bytes between the read cursor and the write
// cursor. The returned slice is only valid until the next call to
// Grow, Write, or Compact.
func (b *Buffer) Unread() []byte {
	return b.bb.B[b.read:]
}

// ReadCursor returns the current read cursor as an absolute index
// into Raw.
func (b *Buffer) ReadCursor() int {
	return b.read
}

// Raw returns the full backing array, including bytes already passed
// by the read cursor. Callers use it together with ReadCursor and
// absolute indices derived from it to address regions of an
// in-progress, not-yet-fully-read message. The returned slice is only
// valid until the next call to Grow, Write, or Compact.
func (b *Buffer) Raw() []byte {
	return b.bb.B
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.bb.B) - b.read
}

// Advance moves the read cursor forward by n bytes. It panics if n
// exceeds the number of unread bytes, which would indicate a codec
// bug rather than a recoverable condition.
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.Len() {
		panic("wsbuf: Advance out of range")
	}
	b.read += n
}

// Write appends p to the buffer, growing the backing array if
// necessary. It never allocates once the array has grown to
// accommodate the largest message seen so far.
func (b *Buffer) Write(p []byte) {
	b.bb.B = append(b.bb.B, p...)
}

// Grow ensures room for n more bytes past the current write cursor,
// advances the write cursor by n, and returns those n bytes as the
// slice to fill.
func (b *Buffer) Grow(n int) []byte {
	l := len(b.bb.B)
	if cap(b.bb.B)-l < n {
		grown := make([]byte, l, l+n)
		copy(grown, b.bb.B)
		b.bb.B = grown
	}
	b.bb.B = b.bb.B[:l+n]
	return b.bb.B[l : l+n]
}

// Truncate shrinks the write cursor back to the read cursor plus n
// unread bytes, discarding anything written past that point. Used to
// undo a speculative Grow when a frame turns out incomplete.
func (b *Buffer) Truncate(n int) {
	b.bb.B = b.bb.B[:b.read+n]
}

// Compact moves any unread bytes to the front of the backing array
// and resets the write cursor just past them. When there are no
// unread bytes (the common case at frame boundaries) this is a zero
// cost cursor reset with no copy.
func (b *Buffer) Compact() {
	if b.read == 0 {
		return
	}
	n := copy(b.bb.B, b.bb.B[b.read:])
	b.bb.B = b.bb.B[:n]
	b.read = 0
}
