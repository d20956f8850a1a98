package metastore

import (
	"bytes"
	"fmt"
	"io"

	"commitlog/pkg/commitlog/metastore/record"

	"github.com/golang/snappy"
)

// Every value a persistent store frames starts with one of these.
const (
	blockRaw    byte = 0
	blockSnappy byte = 1
)

// compressThreshold is the smallest value worth trying to compress.
const compressThreshold = 1024

// encodeBlock prefixes data with its block type, compressing it when that
// saves at least an eighth of its size.
func encodeBlock(data []byte) []byte {
	if len(data) >= compressThreshold {
		compressed := snappy.Encode(nil, data)
		if len(compressed) < len(data)-len(data)/8 {
			return append([]byte{blockSnappy}, compressed...)
		}
	}
	return append([]byte{blockRaw}, data...)
}

func decodeBlock(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrCorrupt)
	}
	switch b[0] {
	case blockRaw:
		return append([]byte{}, b[1:]...), nil
	case blockSnappy:
		data, err := snappy.Decode(nil, b[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown block type %d", ErrCorrupt, b[0])
	}
}

// frame wraps data in a checksummed record around its encoded block.
func frame(w io.Writer, data []byte) error {
	return record.NewWriter(w).AddRecord(encodeBlock(data))
}

// unframe reverses frame. Any damage is reported as ErrCorrupt.
func unframe(commitNum int64, b []byte) ([]byte, error) {
	data, err := record.NewReader(bytes.NewReader(b)).ReadRecord()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: commit %d: %v", ErrCorrupt, commitNum, err)
	}
	data, err = decodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("commit %d: %w", commitNum, err)
	}
	return data, nil
}
