package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// lastFragmentBit marks the final fragment of a record.
	lastFragmentBit = 0x80000000

	// fragmentLengthMask extracts the fragment length from its header.
	fragmentLengthMask = 0x7FFFFFFF

	// DefaultMaxRecordSize bounds a reassembled record. Large enough for a
	// 10 MiB READ or WRITE payload plus envelope.
	DefaultMaxRecordSize = 32 << 20
)

type fragmentHeader struct {
	IsLast bool
	Length uint32
}

func readFragmentHeader(r io.Reader) (fragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fragmentHeader{}, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return fragmentHeader{
		IsLast: header&lastFragmentBit != 0,
		Length: header & fragmentLengthMask,
	}, nil
}

// WriteRecord sends payload as a single final fragment.
func WriteRecord(w io.Writer, payload []byte) error {
	if len(payload) > fragmentLengthMask {
		return fmt.Errorf("record too large: %d bytes", len(payload))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], lastFragmentBit|uint32(len(payload)))

	bufs := net.Buffers{header[:], payload}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// ReadRecord reads fragments until one carries the last-fragment bit and
// returns their concatenation. maxSize bounds the total record size; zero
// selects DefaultMaxRecordSize.
func ReadRecord(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}

	var record []byte
	for {
		header, err := readFragmentHeader(r)
		if err != nil {
			if err == io.EOF && record != nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if len(record)+int(header.Length) > maxSize {
			return nil, fmt.Errorf("record too large: %d bytes exceeds maximum %d",
				len(record)+int(header.Length), maxSize)
		}

		// Single-fragment records are the common case: read in place.
		if record == nil && header.IsLast {
			record = make([]byte, header.Length)
			if _, err := io.ReadFull(r, record); err != nil {
				return nil, fmt.Errorf("read fragment: %w", err)
			}
			return record, nil
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if header.IsLast {
			return record, nil
		}
	}
}
