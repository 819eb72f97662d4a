package cardex

import (
	"log/slog"

	"github.com/cardexio/cardex/blobstore"
	"github.com/cardexio/cardex/embed"
	"github.com/cardexio/cardex/persistence"
	"github.com/cardexio/cardex/resource"
	"github.com/cardexio/cardex/wal"
)

type options struct {
	dimension        int
	checkpointEveryN int
	compression      string
	walEnabled       bool
	walOptions       []func(*wal.Options)
	images           blobstore.Store
	mirror           blobstore.Store
	committer        persistence.Committer
	controller       *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open behavior.
type Option func(*options)

// WithDimension sets the embedding dimensionality. Defaults to
// embed.DefaultDimension. Immutable once the first checkpoint exists.
func WithDimension(dimension int) Option {
	return func(o *options) {
		o.dimension = dimension
	}
}

// WithCheckpointEvery sets the insert count between automatic checkpoints.
// Defaults to persistence.DefaultCheckpointEveryN.
func WithCheckpointEvery(n int) Option {
	return func(o *options) {
		o.checkpointEveryN = n
	}
}

// WithCompression names the checkpoint artifact compression: "none",
// "zstd" or "lz4". Defaults to "none".
func WithCompression(name string) Option {
	return func(o *options) {
		o.compression = name
	}
}

// WithWAL tunes the write-ahead log. The WAL is on by default; this only
// adjusts durability mode, compression and group-commit cadence.
//
// Example:
//
//	cardex.Open(dir, cardex.WithWAL(func(o *wal.Options) {
//	    o.DurabilityMode = wal.DurabilitySync
//	}))
func WithWAL(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walEnabled = true
		o.walOptions = optFns
	}
}

// WithoutWAL disables the write-ahead log, reverting to checkpoint-only
// durability: inserts since the last checkpoint are lost on crash.
func WithoutWAL() Option {
	return func(o *options) {
		o.walEnabled = false
		o.walOptions = nil
	}
}

// WithImageStore configures the blobstore that StoreImage writes card
// images to. Without it, StoreImage fails.
func WithImageStore(store blobstore.Store) Option {
	return func(o *options) {
		o.images = store
	}
}

// WithMirror configures checkpoint mirroring to object storage. committer
// records committed generations (e.g. a DynamoDB commit marker) and may be
// nil to mirror without markers.
func WithMirror(store blobstore.Store, committer persistence.Committer) Option {
	return func(o *options) {
		o.mirror = store
		o.committer = committer
	}
}

// WithResourceController paces checkpoint and mirror IO so background work
// does not starve foreground traffic.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		dimension:        embed.DefaultDimension,
		checkpointEveryN: persistence.DefaultCheckpointEveryN,
		compression:      persistence.CompressionNone,
		walEnabled:       true,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
