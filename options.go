package tidekv

import (
	"fmt"

	"github.com/aalhour/tidekv/internal/compression"
	"github.com/aalhour/tidekv/internal/filter"
	"github.com/aalhour/tidekv/internal/logging"
	"github.com/aalhour/tidekv/internal/table"
)

// SyncMode controls when WAL appends are fsynced.
type SyncMode int

const (
	// SyncAlways fsyncs the WAL segment after every append. Every
	// acknowledged write survives a crash.
	SyncAlways SyncMode = iota

	// SyncBatched buffers appends and fsyncs at segment rotation, on
	// Sync, and on Close. A crash may lose the writes since the last
	// sync.
	SyncBatched
)

// String returns the mode name.
func (m SyncMode) String() string {
	switch m {
	case SyncAlways:
		return "always"
	case SyncBatched:
		return "batched"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Options configures a DB. The zero value is not usable: MemTableThreshold
// is required. Open validates the options and never mutates the caller's
// struct.
type Options struct {
	// MemTableThreshold is the MemTable size in bytes that triggers a
	// freeze and background flush. Required; zero or negative is
	// rejected with ErrInvalidConfig.
	MemTableThreshold int64

	// IndexInterval is the number of records between sparse index
	// samples in written tables. Zero selects the default (16);
	// negative is rejected.
	IndexInterval int

	// BloomFalsePositiveRate is the target false positive rate for
	// table Bloom filters. Zero selects the default (0.01); anything
	// else outside (0, 1) is rejected.
	BloomFalsePositiveRate float64

	// CompactionThreshold is the live table count that triggers an
	// automatic full compaction after a flush. Zero selects the
	// default (4); negative is rejected.
	CompactionThreshold int

	// DisableAutoCompaction turns the automatic trigger off; only
	// manual Compact calls merge tables.
	DisableAutoCompaction bool

	// SyncMode selects the WAL durability mode. The default is
	// SyncAlways.
	SyncMode SyncMode

	// WALCompression compresses WAL entries with the given codec when
	// it makes them smaller. The default is NoCompression.
	WALCompression compression.Type

	// Logger receives engine diagnostics. Nil selects a stderr logger
	// at warn level; logging.Discard silences everything.
	Logger logging.Logger
}

// DefaultOptions returns options with a 4 MiB MemTable threshold and
// every other field at its default.
func DefaultOptions() *Options {
	return &Options{
		MemTableThreshold:      4 << 20,
		IndexInterval:          table.DefaultIndexInterval,
		BloomFalsePositiveRate: filter.DefaultFalsePositiveRate,
		CompactionThreshold:    4,
		SyncMode:               SyncAlways,
		WALCompression:         compression.NoCompression,
	}
}

// sanitize validates opts and returns a defaulted copy.
func sanitize(opts *Options) (Options, error) {
	if opts == nil {
		return Options{}, fmt.Errorf("%w: nil options", ErrInvalidConfig)
	}
	o := *opts

	if o.MemTableThreshold <= 0 {
		return Options{}, fmt.Errorf("%w: MemTableThreshold %d must be positive",
			ErrInvalidConfig, o.MemTableThreshold)
	}
	if o.IndexInterval < 0 {
		return Options{}, fmt.Errorf("%w: IndexInterval %d must not be negative",
			ErrInvalidConfig, o.IndexInterval)
	}
	if o.IndexInterval == 0 {
		o.IndexInterval = table.DefaultIndexInterval
	}
	if o.BloomFalsePositiveRate == 0 {
		o.BloomFalsePositiveRate = filter.DefaultFalsePositiveRate
	} else if !(o.BloomFalsePositiveRate > 0 && o.BloomFalsePositiveRate < 1) {
		return Options{}, fmt.Errorf("%w: BloomFalsePositiveRate %v must be in (0, 1)",
			ErrInvalidConfig, o.BloomFalsePositiveRate)
	}
	if o.CompactionThreshold < 0 {
		return Options{}, fmt.Errorf("%w: CompactionThreshold %d must not be negative",
			ErrInvalidConfig, o.CompactionThreshold)
	}
	if o.CompactionThreshold == 0 {
		o.CompactionThreshold = 4
	}
	if o.SyncMode != SyncAlways && o.SyncMode != SyncBatched {
		return Options{}, fmt.Errorf("%w: unknown SyncMode %d", ErrInvalidConfig, o.SyncMode)
	}
	if !o.WALCompression.Valid() {
		return Options{}, fmt.Errorf("%w: unknown WALCompression %d", ErrInvalidConfig, o.WALCompression)
	}
	o.Logger = logging.OrDefault(o.Logger)
	return o, nil
}

// tableOptions derives the table build options.
func (o *Options) tableOptions() table.Options {
	return table.Options{
		IndexInterval:          o.IndexInterval,
		BloomFalsePositiveRate: o.BloomFalsePositiveRate,
	}
}
