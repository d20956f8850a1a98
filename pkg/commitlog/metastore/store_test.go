package metastore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	"gotest.tools/v3/assert"
)

type storeFactory struct {
	name string
	open func(t *testing.T, dir string) Store
}

var factories = []storeFactory{
	{"memory", func(t *testing.T, dir string) Store { return NewMemStore() }},
	{"file", func(t *testing.T, dir string) Store {
		s, err := OpenFileStore(filepath.Join(dir, "commits"))
		assert.NilError(t, err)
		return s
	}},
	{"bolt", func(t *testing.T, dir string) Store {
		s, err := OpenBoltStore(filepath.Join(dir, "commits.db"))
		assert.NilError(t, err)
		return s
	}},
}

func TestStoreWriteReadList(t *testing.T) {
	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, t.TempDir())
			defer s.Close()

			nums, err := s.List()
			assert.NilError(t, err)
			assert.Equal(t, len(nums), 0)

			for _, n := range []int64{3, 1, 2, 300} {
				assert.NilError(t, s.Write(n, []byte{byte(n), 'x'}))
			}
			nums, err = s.List()
			assert.NilError(t, err)
			assert.DeepEqual(t, nums, []int64{300, 3, 2, 1})

			data, err := s.Read(2)
			assert.NilError(t, err)
			assert.Assert(t, bytes.Equal(data, []byte{2, 'x'}))

			_, err = s.Read(4)
			assert.Assert(t, errors.Is(err, ErrNotFound))

			// overwrite is allowed
			assert.NilError(t, s.Write(2, []byte("again")))
			data, err = s.Read(2)
			assert.NilError(t, err)
			assert.Equal(t, string(data), "again")

			assert.NilError(t, s.Remove(3))
			assert.NilError(t, s.Remove(3))
			_, err = s.Read(3)
			assert.Assert(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStoreReadReturnsCopy(t *testing.T) {
	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, t.TempDir())
			defer s.Close()

			src := []byte("value")
			assert.NilError(t, s.Write(1, src))
			src[0] = 'X'

			data, err := s.Read(1)
			assert.NilError(t, err)
			data[1] = 'Y'

			again, err := s.Read(1)
			assert.NilError(t, err)
			assert.Equal(t, string(again), "value")
		})
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	for _, f := range factories[1:] {
		t.Run(f.name, func(t *testing.T) {
			dir := t.TempDir()
			s := f.open(t, dir)
			assert.NilError(t, s.Write(7, []byte("seven")))
			assert.NilError(t, s.Close())

			s = f.open(t, dir)
			defer s.Close()
			data, err := s.Read(7)
			assert.NilError(t, err)
			assert.Equal(t, string(data), "seven")
		})
	}
}

func TestStoreTrim(t *testing.T) {
	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, t.TempDir())
			defer s.Close()
			for n := int64(1); n <= 5; n++ {
				assert.NilError(t, s.Write(n, []byte("c")))
			}

			removed, err := Trim(s, 0)
			assert.NilError(t, err)
			assert.Equal(t, len(removed), 0)

			removed, err = Trim(s, 2)
			assert.NilError(t, err)
			assert.DeepEqual(t, removed, []int64{3, 2, 1})

			nums, err := s.List()
			assert.NilError(t, err)
			assert.DeepEqual(t, nums, []int64{5, 4})
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, t.TempDir())
			assert.NilError(t, s.Close())
			err := s.Write(1, []byte("x"))
			assert.Assert(t, errors.Is(err, ErrClosed), err)
		})
	}
}

func TestFileStoreDetectsDamage(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir)
	assert.NilError(t, err)
	defer s.Close()
	assert.NilError(t, s.Write(1, []byte("a recovery record")))
	assert.NilError(t, s.Write(2, []byte("another one")))

	path := filepath.Join(dir, GetCommitName(1))
	b, err := os.ReadFile(path)
	assert.NilError(t, err)
	b[len(b)-2] ^= 0x01
	assert.NilError(t, os.WriteFile(path, b, 0644))

	_, err = s.Read(1)
	assert.Assert(t, errors.Is(err, ErrCorrupt), err)

	// torn write
	path = filepath.Join(dir, GetCommitName(2))
	b, err = os.ReadFile(path)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(path, b[:len(b)-3], 0644))
	_, err = s.Read(2)
	assert.Assert(t, errors.Is(err, ErrCorrupt), err)

	assert.NilError(t, os.WriteFile(filepath.Join(dir, GetCommitName(3)), nil, 0644))
	_, err = s.Read(3)
	assert.Assert(t, errors.Is(err, ErrCorrupt), err)
}

func TestBoltStoreDetectsDamage(t *testing.T) {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "commits.db"))
	assert.NilError(t, err)
	defer s.Close()
	assert.NilError(t, s.Write(1, []byte("the older record")))
	assert.NilError(t, s.Write(2, []byte("a recovery record")))

	var stored []byte
	assert.NilError(t, s.db.View(func(tx *bolt.Tx) error {
		stored = append([]byte{}, tx.Bucket(commitsBucket).Get(commitKey(2))...)
		return nil
	}))
	assert.Assert(t, len(stored) > len("a recovery record"))

	put := func(v []byte) {
		assert.NilError(t, s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(commitsBucket).Put(commitKey(2), v)
		}))
	}
	for i := range stored {
		damaged := append([]byte{}, stored...)
		damaged[i] ^= 0xff
		put(damaged)
		_, err := s.Read(2)
		assert.Assert(t, errors.Is(err, ErrCorrupt), "byte %d: %v", i, err)
	}
	for _, n := range []int{3, len(stored) - 1} {
		put(stored[:n])
		_, err := s.Read(2)
		assert.Assert(t, errors.Is(err, ErrCorrupt), "cut at %d: %v", n, err)
	}

	put(stored)
	data, err := s.Read(2)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "a recovery record")
	data, err = s.Read(1)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "the older record")
}

func TestBoltStoreCompressesLargeValues(t *testing.T) {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "commits.db"))
	assert.NilError(t, err)
	defer s.Close()
	data := bytes.Repeat([]byte("iterator-"), 1000)
	assert.NilError(t, s.Write(1, data))

	var size int
	assert.NilError(t, s.db.View(func(tx *bolt.Tx) error {
		size = len(tx.Bucket(commitsBucket).Get(commitKey(1)))
		return nil
	}))
	assert.Assert(t, size < len(data)/2, size)
	got, err := s.Read(1)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, data)
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi"), 0644))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, GetCommitName(9)+tmpSuffix), []byte("partial"), 0644))

	s, err := OpenFileStore(dir)
	assert.NilError(t, err)
	defer s.Close()

	nums, err := s.List()
	assert.NilError(t, err)
	assert.Equal(t, len(nums), 0)

	_, err = os.Stat(filepath.Join(dir, GetCommitName(9)+tmpSuffix))
	assert.Assert(t, os.IsNotExist(err))
}

func TestCommitName(t *testing.T) {
	assert.Equal(t, GetCommitName(42), "42.commit")
	assert.Equal(t, ParseCommitName("42.commit"), int64(42))
	assert.Equal(t, ParseCommitName("42.commit.tmp"), int64(-1))
	assert.Equal(t, ParseCommitName("-1.commit"), int64(-1))
}
