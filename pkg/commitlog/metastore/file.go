package metastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

const (
	commitSuffix = ".commit"
	tmpSuffix    = ".tmp"
)

func GetCommitName(commitNum int64) string {
	return strconv.FormatInt(commitNum, 10) + commitSuffix
}

// ParseCommitName returns -1 for names that are not commit files.
func ParseCommitName(name string) int64 {
	if !strings.HasSuffix(name, commitSuffix) {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(name, commitSuffix), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// FileStore keeps one file per commit. Each file holds a single framed
// record; it is written to a temporary name, synced and renamed into place.
type FileStore struct {
	dir string

	mu     sync.RWMutex
	closed bool
}

func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	s := &FileStore{dir: dir}
	if err := s.removeTemporaries(); err != nil {
		return nil, err
	}
	return s, nil
}

// removeTemporaries drops the leftovers of writes interrupted by a crash.
func (s *FileStore) removeTemporaries() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tmpSuffix) {
			klog.V(2).Infof("metastore: removing interrupted write %s", e.Name())
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

func (s *FileStore) Write(commitNum int64, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	name := filepath.Join(s.dir, GetCommitName(commitNum))
	tmp := name + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err = frame(f, data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("metastore: writing commit %d: %w", commitNum, err)
	}
	if err := os.Rename(tmp, name); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("metastore: installing commit %d: %w", commitNum, err)
	}
	return s.syncDir()
}

func (s *FileStore) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *FileStore) Read(commitNum int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(filepath.Join(s.dir, GetCommitName(commitNum)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unframe(commitNum, b)
}

func (s *FileStore) List() ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	nums := make([]int64, 0, len(entries))
	for _, e := range entries {
		if n := ParseCommitName(e.Name()); n >= 0 {
			nums = append(nums, n)
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] > nums[j] })
	return nums, nil
}

func (s *FileStore) Remove(commitNum int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	err := os.Remove(filepath.Join(s.dir, GetCommitName(commitNum)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
