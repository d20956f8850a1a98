package device

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

const DefaultSegmentSizeBits = 24

type FileOptions struct {
	Dir string
	// SegmentSizeBits sets the size of each segment file to 1<<SegmentSizeBits.
	SegmentSizeBits uint
}

// File stores the address space in fixed size segment files named
// "<segment number>.log". Segment n holds addresses [n<<bits, (n+1)<<bits).
type File struct {
	dir     string
	bits    uint
	segSize int64

	mu       sync.Mutex
	segments map[int64]*os.File
	dirty    map[int64]struct{}
	closed   bool

	begin atomic.Int64

	// run between taking a segment and using it, with no lock held
	testHookBeforeWrite func()
	testHookBeforeRead  func()
}

func OpenFile(opts FileOptions) (*File, error) {
	if opts.SegmentSizeBits == 0 {
		opts.SegmentSizeBits = DefaultSegmentSizeBits
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, err
	}
	f := &File{
		dir:      opts.Dir,
		bits:     opts.SegmentSizeBits,
		segSize:  int64(1) << opts.SegmentSizeBits,
		segments: make(map[int64]*os.File),
		dirty:    make(map[int64]struct{}),
	}

	numbers, err := f.listSegments()
	if err != nil {
		return nil, err
	}
	if len(numbers) > 0 {
		f.begin.Store(numbers[0] << f.bits)
	}
	klog.V(2).Infof("device: opened %s with %d segments of %d bytes", opts.Dir, len(numbers), f.segSize)
	return f, nil
}

// listSegments returns the segment numbers present on disk, ascending.
func (f *File) listSegments() ([]int64, error) {
	dirs, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	numbers := make([]int64, 0, len(dirs))
	for _, d := range dirs {
		if n := ParseSegmentName(d.Name()); n >= 0 {
			numbers = append(numbers, n)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

// segment must be called with f.mu held.
func (f *File) segment(n int64, create bool) (*os.File, error) {
	if seg, ok := f.segments[n]; ok {
		return seg, nil
	}
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	seg, err := os.OpenFile(filepath.Join(f.dir, GetSegmentName(n)), flag, 0644)
	if err != nil {
		return nil, err
	}
	f.segments[n] = seg
	return seg, nil
}

func (f *File) WriteAt(p []byte, addr int64) error {
	if addr < f.begin.Load() {
		return Wrap("write", addr, ErrTruncated)
	}
	for len(p) > 0 {
		n := addr >> f.bits
		off := addr & (f.segSize - 1)
		chunk := p
		if int64(len(chunk)) > f.segSize-off {
			chunk = chunk[:f.segSize-off]
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return Wrap("write", addr, ErrClosed)
		}
		seg, err := f.segment(n, true)
		f.mu.Unlock()
		if err != nil {
			return Wrap("open segment", addr, err)
		}

		if f.testHookBeforeWrite != nil {
			f.testHookBeforeWrite()
		}
		if _, err := seg.WriteAt(chunk, off); err != nil {
			return Wrap("write", addr, err)
		}
		// Marked only once the bytes landed, so a flush running meanwhile
		// cannot clear the mark and leave them unsynced.
		f.mu.Lock()
		if !f.closed && f.segments[n] == seg {
			f.dirty[n] = struct{}{}
		}
		f.mu.Unlock()
		p = p[len(chunk):]
		addr += int64(len(chunk))
	}
	return nil
}

func (f *File) ReadAt(p []byte, addr int64) (int, error) {
	if addr < f.begin.Load() {
		return 0, Wrap("read", addr, ErrTruncated)
	}
	total := 0
	for len(p) > 0 {
		n := addr >> f.bits
		off := addr & (f.segSize - 1)
		chunk := p
		if int64(len(chunk)) > f.segSize-off {
			chunk = chunk[:f.segSize-off]
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return total, Wrap("read", addr, ErrClosed)
		}
		seg, err := f.segment(n, false)
		f.mu.Unlock()
		if os.IsNotExist(err) {
			if addr < f.begin.Load() {
				return total, Wrap("read", addr, ErrTruncated)
			}
			return total, io.EOF
		}
		if err != nil {
			return total, Wrap("open segment", addr, err)
		}

		if f.testHookBeforeRead != nil {
			f.testHookBeforeRead()
		}
		read, err := seg.ReadAt(chunk, off)
		total += read
		if err != nil {
			if err == io.EOF {
				return total, io.EOF
			}
			// SetBeginAddress closed the segment under us
			if errors.Is(err, os.ErrClosed) && addr < f.begin.Load() {
				return total, Wrap("read", addr, ErrTruncated)
			}
			return total, Wrap("read", addr, err)
		}
		p = p[read:]
		addr += int64(read)
	}
	return total, nil
}

// FlushUntil fsyncs every dirty segment holding addresses below addr.
func (f *File) FlushUntil(addr int64) error {
	f.mu.Lock()
	var (
		numbers []int64
		files   []*os.File
	)
	for n := range f.dirty {
		if n<<f.bits < addr {
			numbers = append(numbers, n)
			files = append(files, f.segments[n])
			delete(f.dirty, n)
		}
	}
	f.mu.Unlock()

	var err error
	for i, seg := range files {
		if serr := seg.Sync(); serr != nil {
			err = multierr.Append(err, serr)
			f.mu.Lock()
			if !f.closed {
				f.dirty[numbers[i]] = struct{}{}
			}
			f.mu.Unlock()
		}
	}
	return Wrap("flush", addr, err)
}

func (f *File) BeginAddress() int64 {
	return f.begin.Load()
}

// SetBeginAddress removes every segment that lies wholly below addr.
func (f *File) SetBeginAddress(addr int64) error {
	if addr <= f.begin.Load() {
		return nil
	}
	f.begin.Store(addr)

	numbers, err := f.listSegments()
	if err != nil {
		return Wrap("truncate", addr, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Wrap("truncate", addr, ErrClosed)
	}
	for _, n := range numbers {
		if (n+1)<<f.bits > addr {
			break
		}
		if seg, ok := f.segments[n]; ok {
			err = multierr.Append(err, seg.Close())
			delete(f.segments, n)
			delete(f.dirty, n)
		}
		if rerr := os.Remove(filepath.Join(f.dir, GetSegmentName(n))); rerr != nil && !os.IsNotExist(rerr) {
			err = multierr.Append(err, rerr)
		}
		klog.V(2).Infof("device: removed segment %d below begin address %d", n, addr)
	}
	return Wrap("truncate", addr, err)
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	for n, seg := range f.segments {
		if _, dirty := f.dirty[n]; dirty {
			err = multierr.Append(err, seg.Sync())
		}
		err = multierr.Append(err, seg.Close())
	}
	f.segments = nil
	f.dirty = nil
	return err
}
