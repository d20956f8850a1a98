// Package commit turns concurrent commit requests into a serialized sequence
// of durable recovery records.
package commit

import (
	"context"
	"time"

	"commitlog/pkg/commitlog/device"
	"commitlog/pkg/commitlog/metastore"
	"commitlog/pkg/commitlog/recovery"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

// Tail is the part of the tail controller a commit needs.
type Tail interface {
	TailAddress() int64
	BeginAddress() int64
	FlushUntil(ctx context.Context, addr int64) error
}

// Iterators is the part of the iterator registry a commit needs.
type Iterators interface {
	Snapshot() map[string]int64
	Version() uint64
}

type Request struct {
	// Cookie is stored with the commit and handed back on recovery. A
	// request with a cookie never piggybacks on another commit.
	Cookie []byte
}

// Result describes a durable commit. Results are shared between every caller
// of the same commit and must not be modified.
type Result struct {
	CommitNum    int64
	BeginAddress int64
	UntilAddress int64
	Iterators    map[string]int64
	Cookie       []byte
	// Piggybacked is set when the caller joined a commit started by
	// another caller.
	Piggybacked bool
}

type Options struct {
	Tail      Tail
	Iterators Iterators
	Store     metastore.Store
	// NextCommitNum is the number the first commit will use.
	NextCommitNum int64
	// Retain keeps that many newest commits in the store; 0 keeps all.
	Retain int
	// Recovered, if set, is the commit the log was restored from.
	Recovered *Result
}

type flight struct {
	target int64
	done   chan struct{}
	result Result
	err    error
}

type lastCommit struct {
	result      Result
	iterVersion uint64
}

// Coordinator allows at most one commit in flight. A caller whose target is
// covered by the in-flight commit waits for it instead of starting another.
type Coordinator struct {
	tail   Tail
	iters  Iterators
	store  metastore.Store
	retain int

	nextNum  atomic.Int64
	inflight atomic.Pointer[flight]
	last     atomic.Pointer[lastCommit]
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		tail:   opts.Tail,
		iters:  opts.Iterators,
		store:  opts.Store,
		retain: opts.Retain,
	}
	c.nextNum.Store(opts.NextCommitNum)
	if opts.Recovered != nil {
		c.last.Store(&lastCommit{result: *opts.Recovered, iterVersion: opts.Iterators.Version()})
		committedAddress.Set(float64(opts.Recovered.UntilAddress))
		commitNumber.Set(float64(opts.Recovered.CommitNum))
	}
	return c
}

// Commit makes every entry appended before the call durable and records a
// recovery record covering it. Only waiting honors ctx: once started, a
// commit runs to completion.
func (c *Coordinator) Commit(ctx context.Context, req Request) (Result, error) {
	target := c.tail.TailAddress()
	for {
		if req.Cookie == nil {
			if r, ok := c.covered(target); ok {
				commitsTotal.WithLabelValues(resultUnchanged).Inc()
				return r, nil
			}
		}

		f := c.inflight.Load()
		if f == nil {
			// The new commit covers everything appended up to now, which
			// includes our target, so later callers can join it.
			f = &flight{target: c.tail.TailAddress(), done: make(chan struct{})}
			if !c.inflight.CompareAndSwap(nil, f) {
				continue
			}
			go c.run(context.WithoutCancel(ctx), f, req.Cookie)
			return c.wait(ctx, f, false)
		}

		if req.Cookie == nil && f.target >= target {
			return c.wait(ctx, f, true)
		}

		// The in-flight commit does not cover us, start our own after it.
		select {
		case <-f.done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func (c *Coordinator) wait(ctx context.Context, f *flight, piggybacked bool) (Result, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	if f.err != nil {
		return Result{}, f.err
	}
	r := f.result
	r.Piggybacked = piggybacked
	if piggybacked {
		commitsTotal.WithLabelValues(resultPiggybacked).Inc()
	}
	return r, nil
}

// covered reports whether the last durable commit already records everything
// a commit at target would.
func (c *Coordinator) covered(target int64) (Result, bool) {
	last := c.last.Load()
	if last == nil {
		return Result{}, false
	}
	if last.result.UntilAddress < target ||
		last.iterVersion != c.iters.Version() ||
		last.result.BeginAddress != c.tail.BeginAddress() {
		return Result{}, false
	}
	return last.result, true
}

func (c *Coordinator) run(ctx context.Context, f *flight, cookie []byte) {
	start := time.Now()
	result, iterVersion, err := c.write(ctx, f.target, cookie)
	if err != nil {
		commitsTotal.WithLabelValues(resultFailed).Inc()
		klog.Errorf("commit: commit until %d failed: %v", f.target, err)
		f.err = err
	} else {
		commitsTotal.WithLabelValues(resultWritten).Inc()
		commitDurations.Observe(time.Since(start).Seconds())
		committedAddress.Set(float64(result.UntilAddress))
		commitNumber.Set(float64(result.CommitNum))
		f.result = result
		c.last.Store(&lastCommit{result: result, iterVersion: iterVersion})
	}

	if err == nil {
		c.trim()
	}

	c.inflight.Store(nil)
	close(f.done)
}

func (c *Coordinator) write(ctx context.Context, target int64, cookie []byte) (Result, uint64, error) {
	if err := c.tail.FlushUntil(ctx, target); err != nil {
		return Result{}, 0, device.Wrap("commit flush", target, err)
	}

	// Read the version first so a racing advance makes the next commit
	// write again rather than being skipped.
	iterVersion := c.iters.Version()
	iters := c.iters.Snapshot()

	until := target
	begin := c.tail.BeginAddress()
	if begin > until {
		// truncated past the target, which is still durable
		until = begin
	}
	for name, addr := range iters {
		if addr > until {
			iters[name] = until
		}
	}

	num := c.nextNum.Load()
	rec := &recovery.Record{
		Version:      recovery.CurrentVersion,
		BeginAddress: begin,
		UntilAddress: until,
		CommitNum:    num,
		Iterators:    iters,
		Cookie:       cookie,
	}
	data, err := rec.Encode()
	if err != nil {
		return Result{}, 0, err
	}
	if err := c.store.Write(num, data); err != nil {
		return Result{}, 0, device.Wrap("commit write", num, err)
	}
	c.nextNum.Store(num + 1)
	klog.V(2).Infof("commit: wrote %v", rec)

	return Result{
		CommitNum:    num,
		BeginAddress: begin,
		UntilAddress: until,
		Iterators:    iters,
		Cookie:       cookie,
	}, iterVersion, nil
}

func (c *Coordinator) trim() {
	removed, err := metastore.Trim(c.store, c.retain)
	if err != nil {
		klog.Warningf("commit: removing old commits: %v", err)
		return
	}
	if len(removed) > 0 {
		klog.V(4).Infof("commit: removed old commits %v", removed)
	}
}

// Last returns the newest durable commit, if any.
func (c *Coordinator) Last() (Result, bool) {
	last := c.last.Load()
	if last == nil {
		return Result{}, false
	}
	return last.result, true
}

// CommitNum returns the number of the newest durable commit, or -1.
func (c *Coordinator) CommitNum() int64 {
	if last := c.last.Load(); last != nil {
		return last.result.CommitNum
	}
	return -1
}

// NextCommitNum returns the number the next commit will use.
func (c *Coordinator) NextCommitNum() int64 {
	return c.nextNum.Load()
}
