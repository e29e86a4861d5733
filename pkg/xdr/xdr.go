// Package xdr implements the External Data Representation primitives of
// RFC 4506 used by every ONC RPC message: big-endian fixed-width integers,
// booleans carried in a 4-byte word, and length-prefixed opaque data and
// strings padded to a 4-byte boundary.
//
// Writer and Reader carry a sticky error in the style of bufio.Scanner: once
// an operation fails every later call is a no-op, and the first error is
// reported by Err. This keeps structure encoders free of per-field error
// checks while still surfacing truncated or malformed input.
package xdr

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrLengthExceeded is returned when a decoded length prefix is larger than
// the maximum accepted by the caller.
var ErrLengthExceeded = errors.New("xdr: declared length exceeds limit")

// ErrInvalidBool is returned when a boolean word is neither 0 nor 1.
var ErrInvalidBool = errors.New("xdr: invalid boolean value")

// Encoder is implemented by types that write themselves as XDR.
type Encoder interface {
	EncodeXDR(w *Writer)
}

// Decoder is implemented by types that read themselves from XDR.
type Decoder interface {
	DecodeXDR(r *Reader)
}

// Padding returns the number of zero bytes that follow n bytes of opaque
// data to reach the next 4-byte boundary.
func Padding(n int) int {
	return (4 - n%4) % 4
}

// OpaqueSize returns the encoded size of a variable-length opaque or string
// of n bytes: the length word, the payload and its padding.
func OpaqueSize(n int) int {
	return 4 + n + Padding(n)
}

// Marshal encodes v into a new byte slice.
func Marshal(v Encoder) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	v.EncodeXDR(w)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v. Trailing bytes are not an error since RPC
// bodies are frequently decoded in several steps.
func Unmarshal(data []byte, v Decoder) error {
	r := NewReader(bytes.NewReader(data))
	v.DecodeXDR(r)
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
