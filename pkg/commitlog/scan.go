package commitlog

import (
	"errors"
	"io"

	"commitlog/pkg/commitlog/device"
	"commitlog/pkg/commitlog/iterator"
)

// ErrEndOfLog is returned by Iterator.Next once every durable entry was read.
var ErrEndOfLog = errors.New("commitlog: end of log")

type ScanOptions struct {
	// From is the first address to read. Addresses below the begin address
	// start at the begin address.
	From int64
	// Recover starts from the position the iterator had in the recovered
	// commit, when there is one, instead of From.
	Recover bool
}

// Iterator reads entries in address order. Its acknowledged position, set
// with CompleteUntil, is saved by every commit under its name.
type Iterator struct {
	l    *Log
	h    *iterator.Handle
	next int64
}

// Scan registers a named iterator. Only one iterator per name may be open.
func (l *Log) Scan(name string, opts ScanOptions) (*Iterator, error) {
	from := opts.From
	if opts.Recover {
		if addr, ok := l.iters.Recovered(name); ok {
			from = addr
		}
	}
	if begin := l.tail.BeginAddress(); from < begin {
		from = begin
	}
	h, err := l.iters.Register(name, from)
	if err != nil {
		return nil, err
	}
	return &Iterator{l: l, h: h, next: from}, nil
}

func (it *Iterator) Name() string { return it.h.Name() }

// NextAddress is the address the next call to Next reads.
func (it *Iterator) NextAddress() int64 { return it.next }

// Next returns the entry at the iterator's position, its address and the
// address that follows it. Entries truncated away are skipped.
func (it *Iterator) Next() (entry []byte, addr, next int64, err error) {
	for {
		addr = it.next
		if begin := it.l.tail.BeginAddress(); addr < begin {
			addr = begin
		}
		entry, next, err = it.l.tail.ReadEntry(addr)
		if errors.Is(err, device.ErrTruncated) {
			it.next = it.l.tail.BeginAddress()
			continue
		}
		if err == io.EOF {
			it.next = addr
			return nil, addr, addr, ErrEndOfLog
		}
		if err != nil {
			return nil, addr, addr, err
		}
		it.next = next
		return entry, addr, next, nil
	}
}

// CompleteUntil acknowledges every entry below addr. Acknowledged positions
// never move backwards.
func (it *Iterator) CompleteUntil(addr int64) error {
	return it.h.Advance(addr)
}

// Close unregisters the iterator; later commits no longer record it.
func (it *Iterator) Close() error {
	return it.h.Close()
}
