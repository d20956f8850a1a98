package tail

import "encoding/binary"

// An entry is stored as a 4 byte little endian length followed by the payload.
const frameHeaderSize = 4

// FrameSize returns the number of log bytes an entry of n bytes occupies.
func FrameSize(n int) int64 {
	return int64(frameHeaderSize + n)
}

func encodeFrame(entry []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(entry))
	binary.LittleEndian.PutUint32(frame, uint32(len(entry)))
	copy(frame[frameHeaderSize:], entry)
	return frame
}
