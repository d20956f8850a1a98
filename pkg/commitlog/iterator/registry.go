// Package iterator tracks the acknowledged position of every named reader of
// the log.
package iterator

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

var (
	ErrDuplicateName     = errors.New("iterator: name already registered")
	ErrUnknownName       = errors.New("iterator: name not registered")
	ErrAddressRegression = errors.New("iterator: address moved backwards")
	ErrInvalidName       = errors.New("iterator: empty name")
)

type entry struct {
	addr atomic.Int64
}

// Registry is safe for concurrent use. Snapshot reads each position
// atomically but gives no atomicity across names.
type Registry struct {
	mu        sync.RWMutex
	live      map[string]*entry
	recovered map[string]int64

	version atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		live:      make(map[string]*entry),
		recovered: make(map[string]int64),
	}
}

// Restore installs positions loaded from a commit. Names that are never
// registered again keep their restored position in every later Snapshot.
func (r *Registry) Restore(positions map[string]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, addr := range positions {
		r.recovered[name] = addr
	}
}

// Recovered returns the position restored for name, if any.
func (r *Registry) Recovered(name string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.recovered[name]
	return addr, ok
}

func (r *Registry) Register(name string, from int64) (*Handle, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	e := &entry{}
	e.addr.Store(from)
	r.live[name] = e
	delete(r.recovered, name)
	r.version.Inc()
	return &Handle{name: name, r: r, e: e}, nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.live[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return e, nil
}

// Advance moves name forward to addr. Moving to the current address is a
// no-op; moving backwards fails.
func (r *Registry) Advance(name string, addr int64) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	return r.advance(name, e, addr)
}

func (r *Registry) advance(name string, e *entry, addr int64) error {
	for {
		cur := e.addr.Load()
		if addr < cur {
			return fmt.Errorf("%w: %q at %d, asked for %d", ErrAddressRegression, name, cur, addr)
		}
		if addr == cur {
			return nil
		}
		if e.addr.CompareAndSwap(cur, addr) {
			r.version.Inc()
			return nil
		}
	}
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[name]; ok {
		delete(r.live, name)
		r.version.Inc()
		return nil
	}
	if _, ok := r.recovered[name]; ok {
		delete(r.recovered, name)
		r.version.Inc()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownName, name)
}

// Snapshot returns every position, live or restored, or nil when there is
// none.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.live) == 0 && len(r.recovered) == 0 {
		return nil
	}
	snap := make(map[string]int64, len(r.live)+len(r.recovered))
	for name, addr := range r.recovered {
		snap[name] = addr
	}
	for name, e := range r.live {
		snap[name] = e.addr.Load()
	}
	return snap
}

// Version changes whenever a Snapshot could differ from the previous one.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Handle is a registered iterator.
type Handle struct {
	name string
	r    *Registry
	e    *entry
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) Address() int64 { return h.e.addr.Load() }

// Advance fails with ErrUnknownName once the handle was closed or its name
// registered again.
func (h *Handle) Advance(addr int64) error {
	h.r.mu.RLock()
	live := h.r.live[h.name] == h.e
	h.r.mu.RUnlock()
	if !live {
		return fmt.Errorf("%w: %q is no longer registered to this handle", ErrUnknownName, h.name)
	}
	return h.r.advance(h.name, h.e, addr)
}

// Close unregisters the iterator. Its last position is dropped from later
// commits.
func (h *Handle) Close() error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if h.r.live[h.name] != h.e {
		return nil
	}
	delete(h.r.live, h.name)
	h.r.version.Inc()
	return nil
}
