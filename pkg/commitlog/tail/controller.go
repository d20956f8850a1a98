// Package tail hands out log addresses to concurrent appenders and moves the
// written bytes to durable storage.
package tail

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"commitlog/pkg/commitlog/device"
	"commitlog/pkg/util"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

const DefaultBufferSize = 1 << 20

var (
	ErrClosed        = errors.New("tail: closed")
	ErrEntryTooLarge = errors.New("tail: entry larger than the buffer")
	ErrCorruptEntry  = errors.New("tail: corrupt entry frame")
	ErrBeyondFlushed = errors.New("tail: address above the flushed address")
)

type Options struct {
	// BufferSize bounds how far the tail may run ahead of the flushed address.
	BufferSize int64
	// Begin and Tail restore the address range of a recovered log. Every
	// byte below Tail is taken as durable.
	Begin int64
	Tail  int64
}

// Controller owns the tail address. Appenders reserve space with an atomic
// add and write their frames concurrently; the written-until watermark only
// advances over a contiguous prefix of completed writes.
type Controller struct {
	dev        device.Device
	bufferSize int64

	tail    atomic.Int64
	begin   atomic.Int64
	flushed atomic.Int64

	mu           sync.Mutex
	writtenUntil int64
	completed    map[int64]int64 // start -> end of writes above writtenUntil
	progress     chan struct{}   // closed and replaced on every state change
	writeErr     error
	flushErr     error
	closed       bool

	flushMu sync.Mutex

	maybeFlushC chan struct{}
	closeC      chan struct{}
	wg          sync.WaitGroup
}

func New(dev device.Device, opts Options) *Controller {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	util.Assertf(opts.Begin <= opts.Tail, "begin %d above tail %d", opts.Begin, opts.Tail)

	c := &Controller{
		dev:          dev,
		bufferSize:   opts.BufferSize,
		writtenUntil: opts.Tail,
		completed:    make(map[int64]int64),
		progress:     make(chan struct{}),
		maybeFlushC:  make(chan struct{}, 1),
		closeC:       make(chan struct{}),
	}
	c.tail.Store(opts.Tail)
	c.begin.Store(opts.Begin)
	c.flushed.Store(opts.Tail)
	tailAddress.Set(float64(opts.Tail))
	flushedAddress.Set(float64(opts.Tail))

	c.wg.Add(1)
	go c.flushLoop()
	return c
}

func (c *Controller) TailAddress() int64 { return c.tail.Load() }

func (c *Controller) FlushedUntil() int64 { return c.flushed.Load() }

func (c *Controller) BeginAddress() int64 { return c.begin.Load() }

// WrittenUntil returns the end of the contiguous prefix of completed writes.
func (c *Controller) WrittenUntil() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writtenUntil
}

// Append writes entry at a fresh address and returns that address. It does
// not wait for the entry to become durable.
func (c *Controller) Append(ctx context.Context, entry []byte) (int64, error) {
	size := FrameSize(len(entry))
	if size > c.bufferSize {
		return 0, fmt.Errorf("%w: %d bytes, buffer is %d", ErrEntryTooLarge, size, c.bufferSize)
	}
	if err := c.reserveSpace(ctx, size); err != nil {
		return 0, err
	}

	addr := c.tail.Add(size) - size
	tailAddress.Set(float64(addr + size))

	if err := c.dev.WriteAt(encodeFrame(entry), addr); err != nil {
		err = device.Wrap("write", addr, err)
		c.mu.Lock()
		if c.writeErr == nil {
			c.writeErr = err
			klog.Errorf("tail: write at %d failed, log is read-only from now on: %v", addr, err)
		}
		c.broadcast()
		c.mu.Unlock()
		return 0, err
	}
	appendedBytes.Add(float64(size))
	c.complete(addr, addr+size)
	return addr, nil
}

// reserveSpace waits until size more bytes fit in the buffer.
func (c *Controller) reserveSpace(ctx context.Context, size int64) error {
	waited := false
	for {
		c.mu.Lock()
		if err := c.stateErr(); err != nil {
			c.mu.Unlock()
			return err
		}
		if waited && c.flushErr != nil {
			err := c.flushErr
			c.mu.Unlock()
			return err
		}
		if c.tail.Load()+size-c.flushed.Load() <= c.bufferSize {
			c.mu.Unlock()
			return nil
		}
		ch := c.progress
		c.mu.Unlock()

		if !waited {
			backpressureWaits.Inc()
			waited = true
		}
		c.signalForFlush()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeC:
			return ErrClosed
		}
	}
}

// stateErr must be called with c.mu held.
func (c *Controller) stateErr() error {
	if c.closed {
		return ErrClosed
	}
	return c.writeErr
}

// broadcast wakes every waiter. Must be called with c.mu held.
func (c *Controller) broadcast() {
	close(c.progress)
	c.progress = make(chan struct{})
}

func (c *Controller) complete(start, end int64) {
	util.Assert(start < end)

	c.mu.Lock()
	defer c.mu.Unlock()
	if start != c.writtenUntil {
		c.completed[start] = end
		return
	}
	c.writtenUntil = end
	for {
		next, ok := c.completed[c.writtenUntil]
		if !ok {
			break
		}
		delete(c.completed, c.writtenUntil)
		c.writtenUntil = next
	}
	c.broadcast()
}

// FlushUntil returns once every byte below addr is durable. It first waits
// for appenders holding addresses below addr to finish writing.
func (c *Controller) FlushUntil(ctx context.Context, addr int64) error {
	if addr <= c.flushed.Load() {
		return nil
	}
	if tail := c.tail.Load(); addr > tail {
		addr = tail
	}

	for {
		c.mu.Lock()
		if c.writeErr != nil {
			err := c.writeErr
			c.mu.Unlock()
			return err
		}
		if c.writtenUntil >= addr {
			c.mu.Unlock()
			break
		}
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		ch := c.progress
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeC:
		}
	}
	return c.flush(addr)
}

func (c *Controller) flush(addr int64) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if addr <= c.flushed.Load() {
		return nil
	}

	start := time.Now()
	err := c.dev.FlushUntil(addr)
	flushDurations.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.flushErr = device.Wrap("flush", addr, err)
		c.broadcast()
		return c.flushErr
	}
	c.flushErr = nil
	c.flushed.Store(addr)
	flushedAddress.Set(float64(addr))
	c.broadcast()
	klog.V(4).Infof("tail: flushed until %d in %v", addr, time.Since(start))
	return nil
}

// signalForFlush tries to wake the flush loop without blocking.
func (c *Controller) signalForFlush() {
	select {
	case c.maybeFlushC <- struct{}{}:
	default:
	}
}

func (c *Controller) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.maybeFlushC:
		case <-c.closeC:
			return
		}
		target := c.WrittenUntil()
		if target <= c.flushed.Load() {
			continue
		}
		if err := c.flush(target); err != nil {
			klog.Errorf("tail: background flush until %d failed: %v", target, err)
		}
	}
}

// ReadEntry reads the entry stored at addr, which must be an entry boundary
// below the flushed address. It returns io.EOF at the flushed address.
func (c *Controller) ReadEntry(addr int64) ([]byte, int64, error) {
	if addr < c.begin.Load() {
		return nil, 0, device.Wrap("read", addr, device.ErrTruncated)
	}
	limit := c.flushed.Load()
	if addr >= limit {
		return nil, 0, io.EOF
	}
	if addr+frameHeaderSize > limit {
		return nil, 0, fmt.Errorf("%w: header at %d crosses flushed address %d", ErrCorruptEntry, addr, limit)
	}

	var hdr [frameHeaderSize]byte
	if err := c.readFull(hdr[:], addr); err != nil {
		return nil, 0, err
	}
	n := int64(binary.LittleEndian.Uint32(hdr[:]))
	next := addr + frameHeaderSize + n
	if next > limit {
		return nil, 0, fmt.Errorf("%w: entry at %d of %d bytes crosses flushed address %d", ErrCorruptEntry, addr, n, limit)
	}
	entry := make([]byte, n)
	if err := c.readFull(entry, addr+frameHeaderSize); err != nil {
		return nil, 0, err
	}
	return entry, next, nil
}

func (c *Controller) readFull(p []byte, addr int64) error {
	if len(p) == 0 {
		return nil
	}
	n, err := c.dev.ReadAt(p, addr)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return device.Wrap("read", addr, err)
}

// TruncateUntil releases every entry below addr. addr must not be above the
// flushed address.
func (c *Controller) TruncateUntil(addr int64) error {
	if addr > c.flushed.Load() {
		return fmt.Errorf("%w: %d > %d", ErrBeyondFlushed, addr, c.flushed.Load())
	}
	if addr <= c.begin.Load() {
		return nil
	}
	if err := c.dev.SetBeginAddress(addr); err != nil {
		return device.Wrap("truncate", addr, err)
	}
	c.begin.Store(addr)
	klog.V(2).Infof("tail: begin address moved to %d", addr)
	return nil
}

// Close stops the flush loop and fails every pending and later Append. It
// does not flush; callers that need durability call FlushUntil first.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeC)
	c.broadcast()
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
