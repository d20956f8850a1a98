package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

type Reader struct {
	src       io.Reader
	blk       []byte // unread part of the current block
	blkBytes  []byte
	eof       bool
	recordBuf bytes.Buffer
	offset    int64
}

func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:      src,
		blkBytes: make([]byte, BlockSize),
	}
}

// ReadRecord returns the next payload. The result is only valid until the
// next call. io.EOF marks a clean end of stream, io.ErrUnexpectedEOF a
// stream cut inside a record, ErrCorruption a damaged fragment.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.recordBuf.Reset()
	inRecord := false
	for {
		fragment, rtype, err := r.readPhysicalRecord()
		if err != nil {
			if err == io.EOF && inRecord {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		switch rtype {
		case RecordTypeFull:
			if inRecord {
				return nil, fmt.Errorf("%w: full fragment inside a split record at %d", ErrCorruption, r.offset)
			}
			return fragment, nil
		case RecordTypeFirst:
			if inRecord {
				return nil, fmt.Errorf("%w: first fragment inside a split record at %d", ErrCorruption, r.offset)
			}
			inRecord = true
			r.recordBuf.Write(fragment)
		case RecordTypeMiddle:
			if !inRecord {
				return nil, fmt.Errorf("%w: orphan middle fragment at %d", ErrCorruption, r.offset)
			}
			r.recordBuf.Write(fragment)
		case RecordTypeLast:
			if !inRecord {
				return nil, fmt.Errorf("%w: orphan last fragment at %d", ErrCorruption, r.offset)
			}
			r.recordBuf.Write(fragment)
			return r.recordBuf.Bytes(), nil
		default:
			return nil, fmt.Errorf("%w: unknown fragment type %d at %d", ErrCorruption, rtype, r.offset)
		}
	}
}

func (r *Reader) readPhysicalRecord() ([]byte, RecordType, error) {
	if len(r.blk) < HeaderSize {
		// the remaining bytes are block padding
		r.offset += int64(len(r.blk))
		if r.eof {
			r.blk = nil
			return nil, 0, io.EOF
		}
		n, err := io.ReadFull(r.src, r.blkBytes)
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			r.eof = true
		default:
			return nil, 0, err
		}
		r.blk = r.blkBytes[:n]
		if n < HeaderSize {
			if n == 0 || isZero(r.blk) {
				return nil, 0, io.EOF
			}
			return nil, 0, io.ErrUnexpectedEOF
		}
	}

	header := r.blk[:HeaderSize]
	headerCRC := binary.LittleEndian.Uint32(header)
	length := int(binary.LittleEndian.Uint16(header[4:6]))
	rtype := RecordType(header[6])
	if rtype == RecordTypeZero && length == 0 && headerCRC == 0 {
		// zero padding at the end of a block
		r.offset += int64(len(r.blk))
		r.blk = nil
		if r.eof {
			return nil, 0, io.EOF
		}
		return r.readPhysicalRecord()
	}
	if len(r.blk)-HeaderSize < length {
		if r.eof {
			return nil, 0, io.ErrUnexpectedEOF
		}
		return nil, 0, fmt.Errorf("%w: fragment of %d bytes overruns block at %d", ErrCorruption, length, r.offset)
	}

	fragment := r.blk[HeaderSize : HeaderSize+length]
	crc := crc32.Checksum(header[4:], castagnoli)
	crc = crc32.Update(crc, castagnoli, fragment)
	if crc != headerCRC {
		return nil, 0, fmt.Errorf("%w: checksum mismatch at %d", ErrCorruption, r.offset)
	}
	r.blk = r.blk[HeaderSize+length:]
	r.offset += int64(HeaderSize + length)
	return fragment, rtype, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
