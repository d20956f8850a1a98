package device

import (
	"strconv"
	"strings"
)

const segmentSuffix = ".log"

func GetSegmentName(number int64) string {
	return strconv.FormatInt(number, 10) + segmentSuffix
}

func IsSegmentFile(name string) bool {
	return strings.HasSuffix(name, segmentSuffix)
}

// ParseSegmentName returns -1 for names that are not segment files.
func ParseSegmentName(name string) int64 {
	if !IsSegmentFile(name) {
		return -1
	}
	number, err := strconv.ParseInt(strings.TrimSuffix(name, segmentSuffix), 10, 64)
	if err != nil || number < 0 {
		return -1
	}
	return number
}
