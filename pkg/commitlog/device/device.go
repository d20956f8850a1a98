package device

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice matches every I/O failure surfaced by a device or a
	// metadata store, see Error.
	ErrDevice    = errors.New("device error")
	ErrTruncated = errors.New("device: address below begin address")
	ErrClosed    = errors.New("device: closed")
)

// Device holds the bytes of the log's logical address space.
//
// WriteAt may be called concurrently for disjoint ranges. FlushUntil must not
// return before every byte written below addr is durable.
type Device interface {
	WriteAt(p []byte, addr int64) error
	ReadAt(p []byte, addr int64) (int, error)
	FlushUntil(addr int64) error
	BeginAddress() int64
	// SetBeginAddress moves the begin address forward; data below it may be
	// released.
	SetBeginAddress(addr int64) error
	Close() error
}

// Error is an I/O failure at a logical address (or a commit number, for
// metadata operations).
type Error struct {
	Op   string
	Addr int64
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: %s at %d: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrDevice }

// Wrap turns err into an *Error unless it already is one.
func Wrap(op string, addr int64, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Op: op, Addr: addr, Err: err}
}
