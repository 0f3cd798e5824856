package nlmsg

import (
	"encoding/binary"
	"fmt"
)

// A StructView is a read cursor over a byte range that must match a
// fixed-size kernel ABI record exactly. Construction enforces the size
// contract up front; accessors then walk the record field by field,
// copying each fixed-width value out in its declared byte order. Reads
// past the record mark the view failed and return zero values, so a
// decoder can read the whole layout and check Err once at the end.
type StructView struct {
	b   []byte
	pos int
	err error
}

// NewStructView wraps b, which must be exactly size bytes long; anything
// else is ErrInvalidLength, never a best-effort partial read.
func NewStructView(b []byte, size int) (*StructView, error) {
	if len(b) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), size)
	}
	return &StructView{b: b}, nil
}

func (v *StructView) next(n int) []byte {
	if v.err != nil {
		return nil
	}
	if v.pos+n > len(v.b) {
		v.err = fmt.Errorf("%w: read of %d bytes at offset %d overruns %d-byte struct", ErrInvalidLength, n, v.pos, len(v.b))
		return nil
	}
	s := v.b[v.pos : v.pos+n]
	v.pos += n
	return s
}

// Err reports whether any accessor overran the record.
func (v *StructView) Err() error {
	return v.err
}

func (v *StructView) Byte() byte {
	s := v.next(1)
	if s == nil {
		return 0
	}
	return s[0]
}

func (v *StructView) Uint16() uint16 {
	s := v.next(2)
	if s == nil {
		return 0
	}
	return hostEndian.Uint16(s)
}

func (v *StructView) Uint32() uint32 {
	s := v.next(4)
	if s == nil {
		return 0
	}
	return hostEndian.Uint32(s)
}

func (v *StructView) Uint64() uint64 {
	s := v.next(8)
	if s == nil {
		return 0
	}
	return hostEndian.Uint64(s)
}

func (v *StructView) Int16() int16 {
	return int16(v.Uint16())
}

func (v *StructView) Int32() int32 {
	return int32(v.Uint32())
}

// Uint16Be reads a field the protocol mandates as big-endian, e.g. a
// port number; it is converted here and never left to the caller.
func (v *StructView) Uint16Be() uint16 {
	s := v.next(2)
	if s == nil {
		return 0
	}
	return binary.BigEndian.Uint16(s)
}

// Uint32Be reads a field the protocol mandates as big-endian, e.g. a
// label stack entry.
func (v *StructView) Uint32Be() uint32 {
	s := v.next(4)
	if s == nil {
		return 0
	}
	return binary.BigEndian.Uint32(s)
}

// Bytes returns the next n bytes without copying.
func (v *StructView) Bytes(n int) []byte {
	return v.next(n)
}

// Skip advances over padding or fields the caller doesn't consume.
func (v *StructView) Skip(n int) {
	v.next(n)
}

// A StructWriter is the encode-side counterpart: a cursor over an
// exact-size destination record. Fields not written remain zero, which
// is valid padding for every kernel struct handled here; overruns fail
// the writer.
type StructWriter struct {
	b   []byte
	pos int
	err error
}

// NewStructWriter allocates a zeroed record of the given size.
func NewStructWriter(size int) *StructWriter {
	return &StructWriter{b: make([]byte, size)}
}

// NewStructWriterFor wraps a caller-supplied destination, which must be
// exactly size bytes long.
func NewStructWriterFor(dst []byte, size int) (*StructWriter, error) {
	if len(dst) != size {
		return nil, fmt.Errorf("%w: destination holds %d bytes, want %d", ErrInvalidLength, len(dst), size)
	}
	return &StructWriter{b: dst}, nil
}

func (w *StructWriter) next(n int) []byte {
	if w.err != nil {
		return nil
	}
	if w.pos+n > len(w.b) {
		w.err = fmt.Errorf("%w: write of %d bytes at offset %d overruns %d-byte struct", ErrInvalidLength, n, w.pos, len(w.b))
		return nil
	}
	s := w.b[w.pos : w.pos+n]
	w.pos += n
	return s
}

func (w *StructWriter) PutByte(v byte) {
	if s := w.next(1); s != nil {
		s[0] = v
	}
}

func (w *StructWriter) PutUint16(v uint16) {
	if s := w.next(2); s != nil {
		hostEndian.PutUint16(s, v)
	}
}

func (w *StructWriter) PutUint32(v uint32) {
	if s := w.next(4); s != nil {
		hostEndian.PutUint32(s, v)
	}
}

func (w *StructWriter) PutUint64(v uint64) {
	if s := w.next(8); s != nil {
		hostEndian.PutUint64(s, v)
	}
}

func (w *StructWriter) PutInt16(v int16) {
	w.PutUint16(uint16(v))
}

func (w *StructWriter) PutInt32(v int32) {
	w.PutUint32(uint32(v))
}

func (w *StructWriter) PutUint16Be(v uint16) {
	if s := w.next(2); s != nil {
		binary.BigEndian.PutUint16(s, v)
	}
}

func (w *StructWriter) PutUint32Be(v uint32) {
	if s := w.next(4); s != nil {
		binary.BigEndian.PutUint32(s, v)
	}
}

func (w *StructWriter) PutBytes(v []byte) {
	if s := w.next(len(v)); s != nil {
		copy(s, v)
	}
}

// Pad advances over bytes that stay zero.
func (w *StructWriter) Pad(n int) {
	w.next(n)
}

// Bytes returns the finished record, or the first overrun error.
func (w *StructWriter) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.b, nil
}
