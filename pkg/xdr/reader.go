package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Reader decodes XDR primitives from an io.Reader.
type Reader struct {
	r   io.Reader
	buf [8]byte
	n   int64
	err error
}

// NewReader returns a Reader over r. Errors are sticky: after the first
// failure every Read method returns the zero value and Err reports the
// cause, so decoders check Err once at the end.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error {
	return r.err
}

// Len returns the number of bytes consumed so far.
func (r *Reader) Len() int64 {
	return r.n
}

// Fail records err unless an earlier error is already set. Decoders use it
// to report semantic violations such as an out-of-range discriminant.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) read(p []byte) bool {
	if r.err != nil {
		return false
	}
	n, err := io.ReadFull(r.r, p)
	r.n += int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = fmt.Errorf("xdr read: %w", err)
		return false
	}
	return true
}

// ReadUint32 reads an unsigned integer (RFC 4506 Section 4.2): 4 bytes,
// big-endian.
func (r *Reader) ReadUint32() uint32 {
	if !r.read(r.buf[:4]) {
		return 0
	}
	return binary.BigEndian.Uint32(r.buf[:4])
}

// ReadInt32 reads a two's complement integer (RFC 4506 Section 4.1).
func (r *Reader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadUint64 reads an unsigned hyper integer (RFC 4506 Section 4.5): 8
// bytes, big-endian.
func (r *Reader) ReadUint64() uint64 {
	if !r.read(r.buf[:8]) {
		return 0
	}
	return binary.BigEndian.Uint64(r.buf[:8])
}

func (r *Reader) ReadInt64() int64 {
	return int64(r.ReadUint64())
}

// ReadUint16 reads a 4-byte unit and fails if it does not fit 16 bits.
func (r *Reader) ReadUint16() uint16 {
	v := r.ReadUint32()
	if v > math.MaxUint16 {
		r.Fail(fmt.Errorf("xdr: value %d overflows uint16", v))
		return 0
	}
	return uint16(v)
}

func (r *Reader) ReadInt16() int16 {
	v := r.ReadInt32()
	if v < math.MinInt16 || v > math.MaxInt16 {
		r.Fail(fmt.Errorf("xdr: value %d overflows int16", v))
		return 0
	}
	return int16(v)
}

// ReadUint8 reads a 4-byte unit and fails if it does not fit 8 bits.
func (r *Reader) ReadUint8() uint8 {
	v := r.ReadUint32()
	if v > math.MaxUint8 {
		r.Fail(fmt.Errorf("xdr: value %d overflows uint8", v))
		return 0
	}
	return uint8(v)
}

func (r *Reader) ReadInt8() int8 {
	v := r.ReadInt32()
	if v < math.MinInt8 || v > math.MaxInt8 {
		r.Fail(fmt.Errorf("xdr: value %d overflows int8", v))
		return 0
	}
	return int8(v)
}

// ReadBool reads an XDR boolean. Values other than 0 and 1 fail with
// ErrInvalidBool.
func (r *Reader) ReadBool() bool {
	switch v := r.ReadUint32(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.Fail(fmt.Errorf("%w: %d", ErrInvalidBool, v))
		return false
	}
}

// ReadOpaque reads a variable-length opaque. When max is positive a declared
// length above max fails with ErrLengthExceeded before any payload is
// allocated.
func (r *Reader) ReadOpaque(max int) []byte {
	length := r.ReadUint32()
	if r.err != nil {
		return nil
	}
	if max > 0 && uint64(length) > uint64(max) {
		r.Fail(fmt.Errorf("%w: %d > %d", ErrLengthExceeded, length, max))
		return nil
	}
	if length > math.MaxInt32 {
		r.Fail(fmt.Errorf("%w: %d", ErrLengthExceeded, length))
		return nil
	}
	return r.ReadFixedOpaque(int(length))
}

// ReadFixedOpaque reads exactly n bytes and skips their padding.
func (r *Reader) ReadFixedOpaque(n int) []byte {
	if r.err != nil {
		return nil
	}
	p := make([]byte, n)
	if n == 0 {
		return p
	}
	if !r.read(p) {
		return nil
	}
	if pad := Padding(n); pad > 0 {
		r.read(r.buf[:pad])
	}
	return p
}

// ReadString reads a length-prefixed string bounded by max (0 for no bound).
func (r *Reader) ReadString(max int) string {
	return string(r.ReadOpaque(max))
}

// Read decodes into v.
func (r *Reader) Read(v Decoder) {
	if r.err != nil {
		return
	}
	v.DecodeXDR(r)
}
