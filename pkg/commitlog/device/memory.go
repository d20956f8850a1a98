package device

import (
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type MemoryOptions struct {
	// FlushLatency is paid by every FlushUntil call, outside the device lock.
	FlushLatency time.Duration
	Clock        clockwork.Clock
}

// Memory is a Device backed by a byte slice. Close keeps the contents so the
// same Memory can back a reopened log, and Crash drops whatever was never
// flushed.
type Memory struct {
	mu      sync.RWMutex
	buf     []byte // buf[0] is the byte at address base
	base    int64
	begin   int64
	flushed int64
	failErr error

	latency time.Duration
	clock   clockwork.Clock
}

func NewMemory(opts MemoryOptions) *Memory {
	m := &Memory{
		latency: opts.FlushLatency,
		clock:   opts.Clock,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	return m
}

func (m *Memory) WriteAt(p []byte, addr int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < m.begin {
		return Wrap("write", addr, ErrTruncated)
	}
	end := addr + int64(len(p)) - m.base
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[addr-m.base:], p)
	return nil
}

func (m *Memory) ReadAt(p []byte, addr int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if addr < m.begin {
		return 0, Wrap("read", addr, ErrTruncated)
	}
	off := addr - m.base
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *Memory) FlushUntil(addr int64) error {
	if m.latency > 0 {
		m.clock.Sleep(m.latency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return Wrap("flush", addr, m.failErr)
	}
	if addr > m.flushed {
		m.flushed = addr
	}
	return nil
}

func (m *Memory) BeginAddress() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.begin
}

func (m *Memory) SetBeginAddress(addr int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr <= m.begin {
		return nil
	}
	m.begin = addr
	if drop := addr - m.base; drop > 0 {
		if drop >= int64(len(m.buf)) {
			m.buf = nil
		} else {
			m.buf = append([]byte{}, m.buf[drop:]...)
		}
		m.base = addr
	}
	return nil
}

// FlushedUntil returns the highest address made durable so far.
func (m *Memory) FlushedUntil() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

// Crash discards every byte above the flushed address.
func (m *Memory) Crash() {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := m.flushed - m.base
	if keep < 0 {
		keep = 0
	}
	if keep < int64(len(m.buf)) {
		clear(m.buf[keep:])
		m.buf = m.buf[:keep]
	}
}

// FailFlushes makes every later FlushUntil fail with err; nil heals the device.
func (m *Memory) FailFlushes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Memory) Close() error { return nil }
