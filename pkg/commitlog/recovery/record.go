package recovery

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// VersionLegacy records carry neither a commit number nor a cookie.
	VersionLegacy int32 = 0
	// CurrentVersion is the layout every record is written with.
	CurrentVersion int32 = 1
)

var (
	ErrCorruptMetadata    = errors.New("recovery: corrupt commit metadata")
	ErrUnsupportedVersion = errors.New("recovery: unsupported commit metadata version")
	ErrInvalidRecord      = errors.New("recovery: invalid record")
)

// Record is the state persisted by one successful commit. It is immutable
// once handed to the metadata store.
type Record struct {
	Version      int32
	BeginAddress int64
	UntilAddress int64
	// CommitNum is -1 for records decoded from a VersionLegacy layout.
	CommitNum int64
	// Iterators maps iterator name to its acknowledged address, nil when
	// no iterator was registered at commit time.
	Iterators map[string]int64
	// Cookie is returned unmodified on recovery. The byte layout cannot tell
	// an empty cookie from a missing one, both decode as nil.
	Cookie []byte
	// FastForwardAllowed is runtime state only, it has no place in the
	// byte layout and always decodes as false.
	FastForwardAllowed bool
}

// Checksum is the value stored next to the addresses.
func (r *Record) Checksum() int64 {
	return r.BeginAddress ^ r.UntilAddress
}

// Validate reports whether r can be written.
func (r *Record) Validate() error {
	if r.BeginAddress > r.UntilAddress {
		return fmt.Errorf("%w: begin address %d above until address %d", ErrInvalidRecord, r.BeginAddress, r.UntilAddress)
	}
	for name, addr := range r.Iterators {
		if addr > r.UntilAddress {
			return fmt.Errorf("%w: iterator %q at %d above until address %d", ErrInvalidRecord, name, addr, r.UntilAddress)
		}
	}
	return nil
}

// IteratorNames returns the iterator names in encoding order.
func (r *Record) IteratorNames() []string {
	names := make([]string, 0, len(r.Iterators))
	for name := range r.Iterators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Iterators != nil {
		c.Iterators = make(map[string]int64, len(r.Iterators))
		for k, v := range r.Iterators {
			c.Iterators[k] = v
		}
	}
	if r.Cookie != nil {
		c.Cookie = append([]byte{}, r.Cookie...)
	}
	return &c
}

func (r *Record) String() string {
	return fmt.Sprintf("commit=%d version=%d begin=%d until=%d iterators=%d cookie=%dB",
		r.CommitNum, r.Version, r.BeginAddress, r.UntilAddress, len(r.Iterators), len(r.Cookie))
}
