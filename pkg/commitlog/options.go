package commitlog

import (
	"errors"
	"fmt"
	"time"

	"commitlog/pkg/commitlog/device"
	"commitlog/pkg/commitlog/metastore"
	"commitlog/pkg/commitlog/tail"

	"github.com/jonboulle/clockwork"
)

const (
	MetaStoreFile = "file"
	MetaStoreBolt = "bolt"
)

var ErrInvalidOptions = errors.New("commitlog: invalid options")

type Options struct {
	// Dir holds the segments, the commit metadata and the LOCK file. It may be
	// empty when both Device and Store are given.
	Dir string
	// Device and Store replace the ones Open would create under Dir. They
	// are not closed by Log.Close.
	Device device.Device
	Store  metastore.Store
	// MetaStore picks the store created under Dir: "file" or "bolt".
	MetaStore       string
	SegmentSizeBits uint

	// BufferSize bounds how many appended bytes may wait for a flush.
	BufferSize int64
	// CommitInterval enables periodic commits; 0 disables them.
	CommitInterval time.Duration
	// RetainCommits keeps that many newest commits in the store; 0 keeps all.
	RetainCommits int
	// RequireRecovery makes Open fail with ErrNoValidCheckpoint instead of
	// starting an empty log.
	RequireRecovery bool
	CommitOnClose   bool

	Clock clockwork.Clock
}

func NewDefaultOptions() *Options {
	opts := &Options{}
	opts.MetaStore = MetaStoreFile
	opts.SegmentSizeBits = device.DefaultSegmentSizeBits
	opts.BufferSize = tail.DefaultBufferSize
	opts.CommitInterval = 0
	opts.RetainCommits = 8
	opts.CommitOnClose = true
	opts.Clock = clockwork.NewRealClock()
	return opts
}

func (o *Options) Validate() error {
	if o.Dir == "" && (o.Device == nil || o.Store == nil) {
		return fmt.Errorf("%w: a directory is required unless both device and store are given", ErrInvalidOptions)
	}
	if o.Store == nil && o.MetaStore != MetaStoreFile && o.MetaStore != MetaStoreBolt {
		return fmt.Errorf("%w: unknown metadata store %q", ErrInvalidOptions, o.MetaStore)
	}
	if o.BufferSize < 0 {
		return fmt.Errorf("%w: negative buffer size", ErrInvalidOptions)
	}
	if o.SegmentSizeBits > 40 {
		return fmt.Errorf("%w: segment size bits %d out of range", ErrInvalidOptions, o.SegmentSizeBits)
	}
	if o.CommitInterval < 0 || o.RetainCommits < 0 {
		return fmt.Errorf("%w: negative commit interval or retention", ErrInvalidOptions)
	}
	return nil
}
