package recovery

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Record layout, little endian:
//   version:int32 | checksum:int64 | begin:int64 | until:int64
//   commitNum:int64                           (version >= 1)
//   iteratorCount:int32 | {name:uvarint-len+bytes | address:int64}*
//   cookieLen:int32 | cookie                  (version >= 1)

const headerSize = 4 + 3*8

type header struct {
	Version  int32
	Checksum int64
	Begin    int64
	Until    int64
}

// Encode serializes r with CurrentVersion.
func (r *Record) Encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, 0, r.SerializedSize())
	b = binary.LittleEndian.AppendUint32(b, uint32(CurrentVersion))
	b = binary.LittleEndian.AppendUint64(b, uint64(r.Checksum()))
	b = binary.LittleEndian.AppendUint64(b, uint64(r.BeginAddress))
	b = binary.LittleEndian.AppendUint64(b, uint64(r.UntilAddress))
	b = binary.LittleEndian.AppendUint64(b, uint64(r.CommitNum))

	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Iterators)))
	for _, name := range r.IteratorNames() {
		b = binary.AppendUvarint(b, uint64(len(name)))
		b = append(b, name...)
		b = binary.LittleEndian.AppendUint64(b, uint64(r.Iterators[name]))
	}

	b = binary.LittleEndian.AppendUint32(b, uint32(len(r.Cookie)))
	b = append(b, r.Cookie...)
	return b, nil
}

// EncodeTo writes the encoded record to w.
func (r *Record) EncodeTo(w io.Writer) error {
	b, err := r.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// SerializedSize is the exact length of Encode's output.
func (r *Record) SerializedSize() int {
	size := headerSize + 8 + 4
	var varintbuf [binary.MaxVarintLen64]byte
	for name := range r.Iterators {
		size += binary.PutUvarint(varintbuf[:], uint64(len(name))) + len(name) + 8
	}
	return size + 4 + len(r.Cookie)
}

// Decode parses a record written by Encode or by any older writer.
func Decode(b []byte) (*Record, error) {
	return DecodeFrom(bytes.NewReader(b))
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

// DecodeFrom parses one record from src. Mandatory fields must be present;
// running out of input at the iterator count or the cookie length is read
// as a count of zero, since older writers stopped before those fields.
func DecodeFrom(src io.Reader) (*Record, error) {
	r, ok := src.(byteReader)
	if !ok {
		r = bufio.NewReader(src)
	}

	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, corrupt("header", err)
	}
	if h.Version < 0 {
		return nil, fmt.Errorf("%w: negative version %d", ErrCorruptMetadata, h.Version)
	}
	if h.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d (newest known %d)", ErrUnsupportedVersion, h.Version, CurrentVersion)
	}

	rec := &Record{
		Version:      h.Version,
		BeginAddress: h.Begin,
		UntilAddress: h.Until,
		CommitNum:    -1,
	}
	if h.Version >= 1 {
		if err := binary.Read(r, binary.LittleEndian, &rec.CommitNum); err != nil {
			return nil, corrupt("commit number", err)
		}
	}

	if h.Checksum != h.Begin^h.Until {
		return nil, fmt.Errorf("%w: checksum %#x does not match addresses [%d, %d)", ErrCorruptMetadata, h.Checksum, h.Begin, h.Until)
	}
	if h.Begin > h.Until {
		return nil, fmt.Errorf("%w: begin address %d above until address %d", ErrCorruptMetadata, h.Begin, h.Until)
	}

	count, err := readOptionalCount(r)
	if err != nil {
		return nil, corrupt("iterator count", err)
	}
	if count > 0 {
		hint := count
		if hint > 1024 {
			hint = 1024
		}
		rec.Iterators = make(map[string]int64, hint)
		for i := 0; i < count; i++ {
			name, err := readString(r)
			if err != nil {
				return nil, corrupt("iterator name", err)
			}
			var addr int64
			if err := binary.Read(r, binary.LittleEndian, &addr); err != nil {
				return nil, corrupt("iterator address", err)
			}
			if _, dup := rec.Iterators[name]; dup {
				return nil, fmt.Errorf("%w: iterator %q recorded twice", ErrCorruptMetadata, name)
			}
			rec.Iterators[name] = addr
		}
	}

	if h.Version >= 1 {
		n, err := readOptionalCount(r)
		if err != nil {
			return nil, corrupt("cookie length", err)
		}
		if n > 0 {
			if rec.Cookie, err = readBytes(r, uint64(n)); err != nil {
				return nil, corrupt("cookie", err)
			}
		}
	}
	return rec, nil
}

func corrupt(field string, err error) error {
	return fmt.Errorf("%w: reading %s: %v", ErrCorruptMetadata, field, err)
}

// readOptionalCount reads a non-negative int32, treating a stream that ends
// before or inside the field as zero.
func readOptionalCount(r io.Reader) (int, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil
		}
		return 0, err
	}
	n := int32(binary.LittleEndian.Uint32(b[:]))
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return int(n), nil
}

func readString(r byteReader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b, err := readBytes(r, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readBytes reads exactly n bytes without trusting n for the allocation.
func readBytes(r io.Reader, n uint64) ([]byte, error) {
	if n > 1<<31-1 {
		return nil, fmt.Errorf("length %d out of range", n)
	}
	b, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) != n {
		return nil, io.ErrUnexpectedEOF
	}
	return b, nil
}
