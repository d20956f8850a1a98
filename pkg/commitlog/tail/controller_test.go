package tail

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"commitlog/pkg/commitlog/device"

	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"
)

func TestAppendAndRead(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	c := New(dev, Options{BufferSize: 1024})
	defer c.Close()
	ctx := context.Background()

	var addrs []int64
	for _, e := range []string{"one", "", "three"} {
		addr, err := c.Append(ctx, []byte(e))
		assert.NilError(t, err)
		addrs = append(addrs, addr)
	}
	assert.DeepEqual(t, addrs, []int64{0, 7, 11})
	assert.Equal(t, c.TailAddress(), int64(20))

	// nothing is readable before it is flushed
	_, _, err := c.ReadEntry(0)
	assert.Equal(t, err, io.EOF)

	assert.NilError(t, c.FlushUntil(ctx, c.TailAddress()))
	assert.Equal(t, c.FlushedUntil(), int64(20))
	assert.Equal(t, dev.FlushedUntil(), int64(20))

	var got []string
	for addr := int64(0); ; {
		entry, next, err := c.ReadEntry(addr)
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		got = append(got, string(entry))
		addr = next
	}
	assert.DeepEqual(t, got, []string{"one", "", "three"})
}

func TestAppendRejectsOversizedEntry(t *testing.T) {
	c := New(device.NewMemory(device.MemoryOptions{}), Options{BufferSize: 16})
	defer c.Close()

	_, err := c.Append(context.Background(), make([]byte, 13))
	assert.Assert(t, errors.Is(err, ErrEntryTooLarge))
	_, err = c.Append(context.Background(), make([]byte, 12))
	assert.NilError(t, err)
}

func TestConcurrentAppendsGetDisjointAddresses(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	c := New(dev, Options{BufferSize: 4096})
	defer c.Close()

	const writers, perWriter = 8, 500
	var (
		mu    sync.Mutex
		addrs = make(map[int64]string)
	)
	var g errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				entry := fmt.Sprintf("w%d-%d", w, i)
				addr, err := c.Append(context.Background(), []byte(entry))
				if err != nil {
					return err
				}
				mu.Lock()
				if prev, dup := addrs[addr]; dup {
					mu.Unlock()
					return fmt.Errorf("address %d handed out twice (%s, %s)", addr, prev, entry)
				}
				addrs[addr] = entry
				mu.Unlock()
			}
			return nil
		})
	}
	assert.NilError(t, g.Wait())
	assert.NilError(t, c.FlushUntil(context.Background(), c.TailAddress()))

	// every entry is found at its address and the frames tile the log
	sorted := make([]int64, 0, len(addrs))
	for addr := range addrs {
		sorted = append(sorted, addr)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	expect := int64(0)
	for _, addr := range sorted {
		assert.Equal(t, addr, expect)
		entry, next, err := c.ReadEntry(addr)
		assert.NilError(t, err)
		assert.Equal(t, string(entry), addrs[addr])
		expect = next
	}
	assert.Equal(t, expect, c.TailAddress())
	assert.Equal(t, len(addrs), writers*perWriter)
}

func TestWrittenUntilWaitsForGaps(t *testing.T) {
	c := New(device.NewMemory(device.MemoryOptions{}), Options{BufferSize: 1024})
	defer c.Close()

	c.complete(10, 20)
	assert.Equal(t, c.WrittenUntil(), int64(0))
	c.complete(20, 25)
	assert.Equal(t, c.WrittenUntil(), int64(0))
	c.complete(0, 10)
	assert.Equal(t, c.WrittenUntil(), int64(25))
}

func TestBackpressureAppendsMoreThanBuffer(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{FlushLatency: time.Millisecond})
	c := New(dev, Options{BufferSize: 256})
	defer c.Close()

	entry := make([]byte, 28)
	var g errgroup.Group
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				if _, err := c.Append(context.Background(), entry); err != nil {
					return err
				}
			}
			return nil
		})
	}
	assert.NilError(t, g.Wait())
	assert.Equal(t, c.TailAddress(), int64(4*100*32))
	assert.Assert(t, dev.FlushedUntil() > 0)
	assert.NilError(t, c.FlushUntil(context.Background(), c.TailAddress()))
	assert.Equal(t, dev.FlushedUntil(), c.TailAddress())
}

func TestBackpressureHonorsContext(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	dev.FailFlushes(errors.New("stuck"))
	c := New(dev, Options{BufferSize: 64})
	defer c.Close()

	_, err := c.Append(context.Background(), make([]byte, 60))
	assert.NilError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Append(ctx, make([]byte, 8))
	assert.Assert(t, err != nil)
	assert.Assert(t, errors.Is(err, device.ErrDevice) || errors.Is(err, context.DeadlineExceeded), err)
}

func TestFlushFailureIsRetried(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	c := New(dev, Options{BufferSize: 1024})
	defer c.Close()
	ctx := context.Background()

	_, err := c.Append(ctx, []byte("entry"))
	assert.NilError(t, err)

	cause := errors.New("disk full")
	dev.FailFlushes(cause)
	err = c.FlushUntil(ctx, c.TailAddress())
	assert.Assert(t, errors.Is(err, device.ErrDevice))
	assert.Assert(t, errors.Is(err, cause))
	assert.Equal(t, c.FlushedUntil(), int64(0))

	dev.FailFlushes(nil)
	assert.NilError(t, c.FlushUntil(ctx, c.TailAddress()))
	assert.Equal(t, c.FlushedUntil(), c.TailAddress())
}

func TestRecoveredRange(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	frame := encodeFrame([]byte("old"))
	assert.NilError(t, dev.WriteAt(frame, 100))

	c := New(dev, Options{Begin: 100, Tail: 107})
	defer c.Close()
	assert.Equal(t, c.BeginAddress(), int64(100))
	assert.Equal(t, c.FlushedUntil(), int64(107))

	entry, next, err := c.ReadEntry(100)
	assert.NilError(t, err)
	assert.Equal(t, string(entry), "old")
	assert.Equal(t, next, int64(107))

	addr, err := c.Append(context.Background(), []byte("new"))
	assert.NilError(t, err)
	assert.Equal(t, addr, int64(107))

	_, _, err = c.ReadEntry(50)
	assert.Assert(t, errors.Is(err, device.ErrTruncated))
}

func TestReadEntryDetectsBadFrame(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 1000)
	assert.NilError(t, dev.WriteAt(hdr[:], 0))
	assert.NilError(t, dev.WriteAt(make([]byte, 16), 4))

	c := New(dev, Options{Tail: 20})
	defer c.Close()
	_, _, err := c.ReadEntry(0)
	assert.Assert(t, errors.Is(err, ErrCorruptEntry))
}

func TestTruncateUntil(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	c := New(dev, Options{BufferSize: 1024})
	defer c.Close()
	ctx := context.Background()

	first, err := c.Append(ctx, []byte("first"))
	assert.NilError(t, err)
	second, err := c.Append(ctx, []byte("second"))
	assert.NilError(t, err)

	err = c.TruncateUntil(second)
	assert.Assert(t, errors.Is(err, ErrBeyondFlushed))

	assert.NilError(t, c.FlushUntil(ctx, c.TailAddress()))
	assert.NilError(t, c.TruncateUntil(second))
	assert.Equal(t, c.BeginAddress(), second)
	assert.Equal(t, dev.BeginAddress(), second)

	_, _, err = c.ReadEntry(first)
	assert.Assert(t, errors.Is(err, device.ErrTruncated))
	entry, _, err := c.ReadEntry(second)
	assert.NilError(t, err)
	assert.Equal(t, string(entry), "second")

	// moving backwards is a no-op
	assert.NilError(t, c.TruncateUntil(first))
	assert.Equal(t, c.BeginAddress(), second)
}

func TestWriteFailureIsSticky(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	c := New(dev, Options{BufferSize: 1024})
	defer c.Close()
	ctx := context.Background()

	_, err := c.Append(ctx, []byte("ok"))
	assert.NilError(t, err)
	assert.NilError(t, c.FlushUntil(ctx, c.TailAddress()))
	assert.NilError(t, c.TruncateUntil(c.TailAddress()))

	// writing below the begin address fails in the device
	c.tail.Store(0)
	_, err = c.Append(ctx, []byte("doomed"))
	assert.Assert(t, errors.Is(err, device.ErrDevice))

	_, err = c.Append(ctx, []byte("after"))
	assert.Assert(t, errors.Is(err, device.ErrDevice))
	err = c.FlushUntil(ctx, c.TailAddress())
	assert.Assert(t, errors.Is(err, device.ErrDevice))
}

func TestCloseFailsAppends(t *testing.T) {
	dev := device.NewMemory(device.MemoryOptions{})
	dev.FailFlushes(errors.New("stuck"))
	c := New(dev, Options{BufferSize: 64})

	_, err := c.Append(context.Background(), make([]byte, 60))
	assert.NilError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Append(context.Background(), make([]byte, 8))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	assert.NilError(t, c.Close())
	assert.Assert(t, <-done != nil)

	_, err = c.Append(context.Background(), []byte("x"))
	assert.Assert(t, errors.Is(err, ErrClosed))
}
