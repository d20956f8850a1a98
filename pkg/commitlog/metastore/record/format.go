package record

import "errors"

type RecordType uint8

// Stream format:
//  --- Block ----  <- 32K aligned
//  --- Block ----
//  ---  ...  ----
//
// Fragment format:
//   ---  header    ---  (crc:4|length:2|type:1) 7 bytes
//   --- data-slice ---
//
// A payload that does not fit in the rest of the block is split into a
// First fragment, any number of Middle fragments and a Last fragment.

const (
	RecordTypeZero = RecordType(0)

	RecordTypeFull   = RecordType(1)
	RecordTypeFirst  = RecordType(2)
	RecordTypeMiddle = RecordType(3)
	RecordTypeLast   = RecordType(4)

	BlockSize = 32768
	// Header consists of checksum (4 bytes), length (2 bytes), record type (1 byte).
	HeaderSize = 4 + 2 + 1
)

var (
	ErrCorruption = errors.New("record: corruption")
)
