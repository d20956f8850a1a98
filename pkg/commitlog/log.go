// Package commitlog is a durable append-only log with concurrent producers,
// background flushing, checkpoint commits and resumable named iterators.
package commitlog

import (
	"context"
	"os"
	"sync"
	"time"

	"commitlog/pkg/commitlog/commit"
	"commitlog/pkg/commitlog/device"
	"commitlog/pkg/commitlog/iterator"
	"commitlog/pkg/commitlog/metastore"
	"commitlog/pkg/commitlog/tail"

	"github.com/juju/fslock"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

var ErrClosed = tail.ErrClosed

type CommitResult = commit.Result

type Log struct {
	opts *Options

	dirLock   *fslock.Lock
	dev       device.Device
	store     metastore.Store
	ownsDev   bool
	ownsStore bool

	tail      *tail.Controller
	iters     *iterator.Registry
	coord     *commit.Coordinator
	recovered *LoadResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open recovers the log from its newest readable commit, or starts an empty
// one. Entries appended after that commit are discarded.
func Open(opts *Options) (*Log, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = NewDefaultOptions().Clock
	}

	l := &Log{opts: opts}
	if err := l.open(); err != nil {
		if rerr := l.release(); rerr != nil {
			klog.Warningf("commitlog: releasing %q after failed open: %v", opts.Dir, rerr)
		}
		return nil, err
	}
	return l, nil
}

func (l *Log) open() (err error) {
	opts := l.opts
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return err
		}
		lock := fslock.New(GetLockName(opts.Dir))
		if err := lock.TryLock(); err != nil {
			return err
		}
		l.dirLock = lock
	}

	if err := l.openStore(); err != nil {
		return err
	}
	if err := l.openDevice(); err != nil {
		return err
	}

	l.recovered, err = Load(l.store, opts.RequireRecovery)
	if err != nil {
		return err
	}

	begin, until := l.dev.BeginAddress(), l.dev.BeginAddress()
	var recovered *commit.Result
	if rec := l.recovered.Record; rec != nil {
		if rec.BeginAddress > begin {
			begin = rec.BeginAddress
		}
		until = rec.UntilAddress
		if begin > until {
			klog.Warningf("commitlog: device begins at %d, above recovered until address %d", begin, until)
			until = begin
		}
		recovered = &commit.Result{
			CommitNum:    rec.CommitNum,
			BeginAddress: rec.BeginAddress,
			UntilAddress: rec.UntilAddress,
			Iterators:    rec.Iterators,
			Cookie:       rec.Cookie,
		}
	}
	if err := l.dev.SetBeginAddress(begin); err != nil {
		return device.Wrap("truncate", begin, err)
	}

	l.tail = tail.New(l.dev, tail.Options{
		BufferSize: opts.BufferSize,
		Begin:      begin,
		Tail:       until,
	})
	l.iters = iterator.NewRegistry()
	if l.recovered.Record != nil {
		l.iters.Restore(l.recovered.Record.Iterators)
	}
	l.coord = commit.NewCoordinator(commit.Options{
		Tail:          l.tail,
		Iterators:     l.iters,
		Store:         l.store,
		NextCommitNum: l.recovered.NextCommitNum,
		Retain:        opts.RetainCommits,
		Recovered:     recovered,
	})

	l.ctx, l.cancel = context.WithCancel(context.Background())
	if opts.CommitInterval > 0 {
		l.wg.Add(1)
		go l.autoCommitLoop(opts.CommitInterval)
	}

	klog.Infof("commitlog: opened %q, addresses [%d, %d), next commit %d",
		opts.Dir, begin, until, l.recovered.NextCommitNum)
	return nil
}

func (l *Log) openStore() (err error) {
	if l.opts.Store != nil {
		l.store = l.opts.Store
		return nil
	}
	switch l.opts.MetaStore {
	case MetaStoreBolt:
		l.store, err = metastore.OpenBoltStore(GetBoltName(l.opts.Dir))
	default:
		l.store, err = metastore.OpenFileStore(GetCommitDir(l.opts.Dir))
	}
	l.ownsStore = err == nil
	return err
}

func (l *Log) openDevice() (err error) {
	if l.opts.Device != nil {
		l.dev = l.opts.Device
		return nil
	}
	l.dev, err = device.OpenFile(device.FileOptions{
		Dir:             GetSegmentDir(l.opts.Dir),
		SegmentSizeBits: l.opts.SegmentSizeBits,
	})
	l.ownsDev = err == nil
	return err
}

// release closes whatever Open created.
func (l *Log) release() error {
	var err error
	if l.tail != nil {
		err = multierr.Append(err, l.tail.Close())
	}
	if l.ownsDev {
		err = multierr.Append(err, l.dev.Close())
	}
	if l.ownsStore {
		err = multierr.Append(err, l.store.Close())
	}
	if l.dirLock != nil {
		err = multierr.Append(err, l.dirLock.Unlock())
	}
	return err
}

func (l *Log) autoCommitLoop(interval time.Duration) {
	defer l.wg.Done()
	ticker := l.opts.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			if _, err := l.coord.Commit(l.ctx, commit.Request{}); err != nil && l.ctx.Err() == nil {
				klog.Errorf("commitlog: periodic commit failed: %v", err)
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// Append adds entry to the log and returns its address. The entry survives
// a crash only once a later commit covers it.
func (l *Log) Append(ctx context.Context, entry []byte) (int64, error) {
	return l.tail.Append(ctx, entry)
}

// Commit makes every entry appended before the call durable along with the
// current iterator positions.
func (l *Log) Commit(ctx context.Context) (CommitResult, error) {
	return l.coord.Commit(ctx, commit.Request{})
}

// CommitWithCookie commits like Commit and stores cookie with the commit.
// RecoveredCookie returns it after a restart.
func (l *Log) CommitWithCookie(ctx context.Context, cookie []byte) (CommitResult, error) {
	if cookie == nil {
		cookie = []byte{}
	}
	return l.coord.Commit(ctx, commit.Request{Cookie: cookie})
}

// TruncateUntil drops the entries below addr, which must be an entry address
// no higher than the flushed address. The next commit records the new begin
// address.
func (l *Log) TruncateUntil(addr int64) error {
	return l.tail.TruncateUntil(addr)
}

// RecoveredIterator returns the position iterator name had in the commit
// the log was recovered from.
func (l *Log) RecoveredIterator(name string) (int64, bool) {
	return l.iters.Recovered(name)
}

// RecoveredCookie returns the cookie of the commit the log was recovered
// from.
func (l *Log) RecoveredCookie() []byte {
	if rec := l.recovered.Record; rec != nil {
		return rec.Cookie
	}
	return nil
}

// Recovery describes what Open found in the metadata store.
func (l *Log) Recovery() *LoadResult {
	return l.recovered
}

func (l *Log) BeginAddress() int64 { return l.tail.BeginAddress() }

func (l *Log) TailAddress() int64 { return l.tail.TailAddress() }

func (l *Log) FlushedUntilAddress() int64 { return l.tail.FlushedUntil() }

// CommittedUntilAddress returns the until address of the newest durable
// commit.
func (l *Log) CommittedUntilAddress() int64 {
	if r, ok := l.coord.Last(); ok {
		return r.UntilAddress
	}
	return l.tail.BeginAddress()
}

// CommitNum returns the number of the newest durable commit, -1 if none.
func (l *Log) CommitNum() int64 { return l.coord.CommitNum() }

// Close stops the periodic commits, optionally commits once more, and
// releases everything Open created.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cancel()
	l.wg.Wait()

	var err error
	if l.opts.CommitOnClose {
		if _, cerr := l.coord.Commit(context.Background(), commit.Request{}); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}
	err = multierr.Append(err, l.release())
	klog.Infof("commitlog: closed %q at commit %d", l.opts.Dir, l.coord.CommitNum())
	return err
}
