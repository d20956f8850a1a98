// Package metastore keeps serialized commit records keyed by commit number.
package metastore

import (
	"errors"
)

var (
	ErrNotFound = errors.New("metastore: commit not found")
	// ErrCorrupt is returned by Read when the stored bytes fail the store's
	// own integrity check.
	ErrCorrupt = errors.New("metastore: stored commit is corrupt")
	ErrClosed  = errors.New("metastore: closed")
)

// Store persists commit metadata.
//
// Write must be atomic: a later Read sees either the whole value or
// ErrNotFound, never a prefix. Implementations are safe for concurrent use.
type Store interface {
	Write(commitNum int64, data []byte) error
	Read(commitNum int64) ([]byte, error)
	// List returns every stored commit number, newest first.
	List() ([]int64, error)
	Remove(commitNum int64) error
	Close() error
}

// Trim removes every commit but the newest retain ones and returns the
// numbers it removed. retain <= 0 keeps everything.
func Trim(s Store, retain int) ([]int64, error) {
	if retain <= 0 {
		return nil, nil
	}
	nums, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(nums) <= retain {
		return nil, nil
	}
	var removed []int64
	for _, n := range nums[retain:] {
		if err := s.Remove(n); err != nil {
			return removed, err
		}
		removed = append(removed, n)
	}
	return removed, nil
}
