package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

var zeroPad [4]byte

// Writer encodes XDR primitives onto an io.Writer.
type Writer struct {
	w   io.Writer
	buf [8]byte
	n   int64
	err error
}

// NewWriter returns a Writer onto w. Like Reader, the first error sticks
// and later writes are dropped.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered while writing.
func (w *Writer) Err() error {
	return w.err
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int64 {
	return w.n
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil {
		w.err = fmt.Errorf("xdr write: %w", err)
	}
}

// WriteUint32 writes v as 4 big-endian bytes.
func (w *Writer) WriteUint32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 writes v as an 8-byte hyper integer.
func (w *Writer) WriteUint64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteUint16 writes v zero-extended into a 4-byte word.
func (w *Writer) WriteUint16(v uint16) {
	w.WriteUint32(uint32(v))
}

// WriteInt16 writes v sign-extended into a 4-byte word.
func (w *Writer) WriteInt16(v int16) {
	w.WriteInt32(int32(v))
}

// WriteUint8 writes v zero-extended into a 4-byte word.
func (w *Writer) WriteUint8(v uint8) {
	w.WriteUint32(uint32(v))
}

// WriteInt8 writes v sign-extended into a 4-byte word.
func (w *Writer) WriteInt8(v int8) {
	w.WriteInt32(int32(v))
}

// WriteBool writes TRUE as 1 and FALSE as 0.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint32(1)
	} else {
		w.WriteUint32(0)
	}
}

// WriteOpaque writes a variable-length opaque: length, bytes, padding.
// A nil or empty slice is written as a zero length with no payload.
func (w *Writer) WriteOpaque(p []byte) {
	w.WriteUint32(uint32(len(p)))
	if len(p) == 0 {
		return
	}
	w.write(p)
	w.write(zeroPad[:Padding(len(p))])
}

// WriteFixedOpaque writes p followed by its padding, without a length word.
func (w *Writer) WriteFixedOpaque(p []byte) {
	if len(p) == 0 {
		return
	}
	w.write(p)
	w.write(zeroPad[:Padding(len(p))])
}

// WriteString writes s as an XDR string (RFC 4506 Section 4.11), which has
// the same layout as variable-length opaque data.
func (w *Writer) WriteString(s string) {
	w.WriteOpaque([]byte(s))
}

// Write encodes v. It lets composite encoders nest without type switches.
func (w *Writer) Write(v Encoder) {
	if w.err != nil {
		return
	}
	v.EncodeXDR(w)
}
