package record

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"commitlog/pkg/util"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Writer frames payloads into crc protected fragments. It does not sync;
// the owner of dest decides when the bytes become durable.
type Writer struct {
	blockOffset int // Current offset in block
	dest        io.Writer
	header      [HeaderSize]byte
}

func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

func (w *Writer) AddRecord(payload []byte) (err error) {
	left := len(payload)
	begin := true
	end := false
	offset := 0

	for !end && err == nil {
		leftover := BlockSize - w.blockOffset
		util.Assert(0 <= leftover)

		// Not enough room for a header, pad and start a new block.
		if leftover < HeaderSize {
			if 0 < leftover {
				var zeros [HeaderSize]byte
				if _, err = w.dest.Write(zeros[:leftover]); err != nil {
					return err
				}
			}
			w.blockOffset = 0
		}
		available := BlockSize - w.blockOffset - HeaderSize

		fragLen := available
		if left <= available {
			end = true
			fragLen = left
		}

		recordType := RecordTypeMiddle
		if begin && end {
			recordType = RecordTypeFull
		} else if begin {
			recordType = RecordTypeFirst
		} else if end {
			recordType = RecordTypeLast
		}

		err = w.emitPhysicalRecord(recordType, payload[offset:offset+fragLen])

		offset += fragLen
		w.blockOffset += fragLen + HeaderSize
		begin = false
		left -= fragLen
	}
	return err
}

func (w *Writer) emitPhysicalRecord(rtype RecordType, fragment []byte) error {
	binary.LittleEndian.PutUint16(w.header[4:6], uint16(len(fragment)))
	w.header[6] = byte(rtype)
	crc := crc32.Checksum(w.header[4:], castagnoli)
	crc = crc32.Update(crc, castagnoli, fragment)
	binary.LittleEndian.PutUint32(w.header[:4], crc)

	if _, err := w.dest.Write(w.header[:]); err != nil {
		return err
	}
	_, err := w.dest.Write(fragment)
	return err
}
