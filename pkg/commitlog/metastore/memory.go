package metastore

import (
	"sort"
	"sync"
)

type MemStore struct {
	mu      sync.RWMutex
	commits map[int64][]byte
	closed  bool
}

func NewMemStore() *MemStore {
	return &MemStore{commits: make(map[int64][]byte)}
}

func (s *MemStore) Write(commitNum int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.commits[commitNum] = append([]byte{}, data...)
	return nil
}

func (s *MemStore) Read(commitNum int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.commits[commitNum]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, data...), nil
}

func (s *MemStore) List() ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	nums := make([]int64, 0, len(s.commits))
	for n := range s.commits {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] > nums[j] })
	return nums, nil
}

func (s *MemStore) Remove(commitNum int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.commits, commitNum)
	return nil
}

// Put stores data without any validation, for injecting damaged commits.
func (s *MemStore) Put(commitNum int64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[commitNum] = data
}

// Close keeps the contents so the store can back a reopened log; Reopen
// makes it usable again.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemStore) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}
