package options

import (
	"errors"
	"fmt"
	"time"

	"commitlog/pkg/commitlog"
	"commitlog/pkg/commitlog/device"
	"commitlog/pkg/commitlog/metastore"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// LogOptions are the flags every command that opens a log shares.
type LogOptions struct {
	Dir             string
	MetaStore       string
	SegmentSizeBits uint
	BufferSize      string
	CommitInterval  time.Duration
	RetainCommits   int
	RequireRecovery bool

	bufferBytes int64
}

func NewLogOptions() *LogOptions {
	def := commitlog.NewDefaultOptions()
	return &LogOptions{
		Dir:             "./commitlog-data",
		MetaStore:       def.MetaStore,
		SegmentSizeBits: def.SegmentSizeBits,
		BufferSize:      humanize.IBytes(uint64(def.BufferSize)),
		RetainCommits:   def.RetainCommits,
	}
}

func (o *LogOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Dir, "dir", o.Dir,
		"Log base directory")
	fs.StringVar(&o.MetaStore, "metastore", o.MetaStore,
		"Commit metadata store, file or bolt")
	fs.UintVar(&o.SegmentSizeBits, "segment-size-bits", o.SegmentSizeBits,
		"Segment file size as a power of two")
	fs.StringVar(&o.BufferSize, "buffer-size", o.BufferSize,
		"Appended bytes allowed to wait for a flush, e.g. 4MiB")
	fs.DurationVar(&o.CommitInterval, "commit-interval", o.CommitInterval,
		"Commit periodically at this interval, 0 disables it")
	fs.IntVar(&o.RetainCommits, "retain-commits", o.RetainCommits,
		"Newest commits kept in the metadata store, 0 keeps all")
	fs.BoolVar(&o.RequireRecovery, "require-recovery", o.RequireRecovery,
		"Fail instead of starting an empty log when no commit is readable")
}

func (o *LogOptions) Complete() error {
	n, err := humanize.ParseBytes(o.BufferSize)
	if err != nil {
		return fmt.Errorf("--buffer-size: %w", err)
	}
	o.bufferBytes = int64(n)
	return nil
}

// Validate will check the requirements of options
func (o *LogOptions) Validate() []error {
	var errs []error
	if o.Dir == "" {
		errs = append(errs, errors.New("--dir must not be empty"))
	}
	if o.MetaStore != commitlog.MetaStoreFile && o.MetaStore != commitlog.MetaStoreBolt {
		errs = append(errs, fmt.Errorf("--metastore must be %q or %q", commitlog.MetaStoreFile, commitlog.MetaStoreBolt))
	}
	if o.RetainCommits < 0 {
		errs = append(errs, errors.New("--retain-commits must not be negative"))
	}
	return errs
}

// LogOpts returns the library options the flags describe.
func (o *LogOptions) LogOpts() *commitlog.Options {
	opts := commitlog.NewDefaultOptions()
	opts.Dir = o.Dir
	opts.MetaStore = o.MetaStore
	opts.SegmentSizeBits = o.SegmentSizeBits
	if o.bufferBytes > 0 {
		opts.BufferSize = o.bufferBytes
	}
	opts.CommitInterval = o.CommitInterval
	opts.RetainCommits = o.RetainCommits
	opts.RequireRecovery = o.RequireRecovery
	return opts
}

// OpenStore opens the metadata store under Dir without locking the log.
func (o *LogOptions) OpenStore() (metastore.Store, error) {
	if o.MetaStore == commitlog.MetaStoreBolt {
		return metastore.OpenBoltStore(commitlog.GetBoltName(o.Dir))
	}
	return metastore.OpenFileStore(commitlog.GetCommitDir(o.Dir))
}

type AppendOptions struct {
	*LogOptions
	Cookie string
}

func NewAppendOptions() *AppendOptions {
	return &AppendOptions{LogOptions: NewLogOptions()}
}

func (o *AppendOptions) AddFlags(fs *pflag.FlagSet) {
	o.LogOptions.AddFlags(fs)
	fs.StringVar(&o.Cookie, "cookie", o.Cookie,
		"Store this value with the commit that follows the appends")
}

type ScanOptions struct {
	*LogOptions
	Name    string
	From    int64
	Recover bool
	Limit   int
	Ack     bool
}

func NewScanOptions() *ScanOptions {
	return &ScanOptions{LogOptions: NewLogOptions(), Name: "cli", Recover: true}
}

func (o *ScanOptions) AddFlags(fs *pflag.FlagSet) {
	o.LogOptions.AddFlags(fs)
	fs.StringVar(&o.Name, "name", o.Name,
		"Iterator name")
	fs.Int64Var(&o.From, "from", o.From,
		"First address to read")
	fs.BoolVar(&o.Recover, "recover", o.Recover,
		"Resume from the position the iterator had in the recovered commit")
	fs.IntVar(&o.Limit, "limit", o.Limit,
		"Stop after this many entries, 0 reads to the end")
	fs.BoolVar(&o.Ack, "ack", o.Ack,
		"Acknowledge the entries read and commit the new position")
}

func (o *ScanOptions) Validate() []error {
	errs := o.LogOptions.Validate()
	if o.Name == "" {
		errs = append(errs, errors.New("--name must not be empty"))
	}
	if o.Limit < 0 {
		errs = append(errs, errors.New("--limit must not be negative"))
	}
	return errs
}

type TruncateOptions struct {
	*LogOptions
	Until int64
}

func NewTruncateOptions() *TruncateOptions {
	return &TruncateOptions{LogOptions: NewLogOptions(), Until: -1}
}

func (o *TruncateOptions) AddFlags(fs *pflag.FlagSet) {
	o.LogOptions.AddFlags(fs)
	fs.Int64Var(&o.Until, "until", o.Until,
		"Drop the entries below this entry address")
}

func (o *TruncateOptions) Validate() []error {
	errs := o.LogOptions.Validate()
	if o.Until < 0 {
		errs = append(errs, errors.New("--until is required"))
	}
	return errs
}

type BenchOptions struct {
	*LogOptions
	InMemory     bool
	FlushLatency time.Duration
	Producers    int
	Committers   int
	Entries      int
	EntrySize    string
	Skewed       bool
	Seed         uint32
	Rate         float64
	Duration     time.Duration

	entryBytes int
}

func NewBenchOptions() *BenchOptions {
	return &BenchOptions{
		LogOptions: NewLogOptions(),
		InMemory:   true,
		Producers:  4,
		Committers: 2,
		Entries:    10000,
		EntrySize:  "128B",
		Seed:       301,
	}
}

func (o *BenchOptions) AddFlags(fs *pflag.FlagSet) {
	o.LogOptions.AddFlags(fs)
	fs.BoolVar(&o.InMemory, "in-memory", o.InMemory,
		"Run against an in-memory device and store instead of --dir")
	fs.DurationVar(&o.FlushLatency, "flush-latency", o.FlushLatency,
		"Latency of every flush of the in-memory device")
	fs.IntVar(&o.Producers, "producers", o.Producers,
		"Concurrent appenders")
	fs.IntVar(&o.Committers, "committers", o.Committers,
		"Concurrent committers")
	fs.IntVar(&o.Entries, "entries", o.Entries,
		"Entries appended by every producer")
	fs.StringVar(&o.EntrySize, "entry-size", o.EntrySize,
		"Size of every entry, e.g. 1KiB")
	fs.BoolVar(&o.Skewed, "skewed", o.Skewed,
		"Draw entry sizes up to --entry-size, biased towards small entries")
	fs.Uint32Var(&o.Seed, "seed", o.Seed,
		"Seed of the entry generator, producers derive theirs from it")
	fs.Float64Var(&o.Rate, "rate", o.Rate,
		"Appends per second over all producers, 0 is unlimited")
	fs.DurationVar(&o.Duration, "duration", o.Duration,
		"Stop after this long even if entries remain, 0 waits for all")
}

func (o *BenchOptions) Complete() error {
	if err := o.LogOptions.Complete(); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(o.EntrySize)
	if err != nil {
		return fmt.Errorf("--entry-size: %w", err)
	}
	o.entryBytes = int(n)
	return nil
}

func (o *BenchOptions) Validate() []error {
	var errs []error
	if !o.InMemory {
		errs = o.LogOptions.Validate()
	}
	if o.Producers <= 0 || o.Committers < 0 {
		errs = append(errs, errors.New("--producers must be positive and --committers not negative"))
	}
	if o.Entries <= 0 {
		errs = append(errs, errors.New("--entries must be positive"))
	}
	if o.entryBytes <= 0 {
		errs = append(errs, errors.New("--entry-size must be positive"))
	}
	if o.Rate < 0 {
		errs = append(errs, errors.New("--rate must not be negative"))
	}
	return errs
}

func (o *BenchOptions) EntryBytes() int { return o.entryBytes }

// LogOpts replaces the directory with an in-memory device and store when
// InMemory is set.
func (o *BenchOptions) LogOpts() *commitlog.Options {
	opts := o.LogOptions.LogOpts()
	if o.InMemory {
		opts.Dir = ""
		opts.Device = device.NewMemory(device.MemoryOptions{FlushLatency: o.FlushLatency})
		opts.Store = metastore.NewMemStore()
	}
	return opts
}
