package metastore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var commitsBucket = []byte("commits")

// BoltStore keeps commits in a bbolt database, one key per commit number.
// Keys are big endian so cursor order is commit order. Values are framed
// like FileStore's, since bbolt checks its pages but not what is in them.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(commitsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func commitKey(commitNum int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(commitNum))
	return k[:]
}

func (s *BoltStore) Write(commitNum int64, data []byte) error {
	var buf bytes.Buffer
	if err := frame(&buf, data); err != nil {
		return err
	}
	return s.wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(commitsBucket).Put(commitKey(commitNum), buf.Bytes())
	}))
}

func (s *BoltStore) Read(commitNum int64) ([]byte, error) {
	var b []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(commitsBucket).Get(commitKey(commitNum))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid for the life of the transaction
		b = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return unframe(commitNum, b)
}

func (s *BoltStore) List() ([]int64, error) {
	var nums []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(commitsBucket).Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if len(k) != 8 {
				continue
			}
			nums = append(nums, int64(binary.BigEndian.Uint64(k)))
		}
		return nil
	})
	return nums, s.wrap(err)
}

func (s *BoltStore) Remove(commitNum int64) error {
	return s.wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(commitsBucket).Delete(commitKey(commitNum))
	}))
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) wrap(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
