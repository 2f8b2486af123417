package obtree

import (
	"log/slog"

	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/fs"
	"github.com/hupe1980/obtree/internal/sortstream"
	"github.com/hupe1980/obtree/resource"
)

// Compression selects the page codec of a datafile.
type Compression = datafile.Compression

const (
	CompressionNone = datafile.CompressionNone
	CompressionLZ4  = datafile.CompressionLZ4
	CompressionZSTD = datafile.CompressionZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) { return datafile.ParseCompression(s) }

type options struct {
	logger  *Logger
	metrics MetricsCollector
	rc      *resource.Controller
	fs      fs.FileSystem

	// build
	remote      blobstore.BlobStore
	compression Compression
	fillFactor  int
	checkpoint  uint32
	presorted   bool
	sortMemory  int64
	waitUpload  bool
	ctid        uint64
	bridgeCtid  uint64

	// open
	blockCacheBytes int64
	pageCacheBytes  int64
	maxRetries      int
	noFastPath      bool
}

// Option configures Build and Open.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := obtree.NewJSONLogger(slog.LevelInfo)
//	idx, _ := obtree.OpenLocal(ctx, "./data", "ids", desc, obtree.WithLogger(logger))
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

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithResourceController shares a memory, IO and background budget across
// builds and open indexes.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithRemote mirrors every build to remote. The datafile and header are
// uploaded in the background and the remote LATEST pointer moves last.
func WithRemote(remote blobstore.BlobStore) Option {
	return func(o *options) {
		o.remote = remote
	}
}

// WithWaitUpload makes Build wait for the remote mirror to finish.
func WithWaitUpload() Option {
	return func(o *options) {
		o.waitUpload = true
	}
}

// WithCompression sets the page codec used by Build.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithFillFactor overrides the descriptor's fill factor (10..100).
func WithFillFactor(ff int) Option {
	return func(o *options) {
		o.fillFactor = ff
	}
}

// WithCheckpoint pins the checkpoint number. Build writes it, Open reads it.
// By default Build picks the next number after the latest one and Open
// follows the LATEST pointer.
func WithCheckpoint(chkp uint32) Option {
	return func(o *options) {
		o.checkpoint = chkp
	}
}

// WithPresorted tells Build the source is already in key order. The sort
// is skipped and order is checked while building instead.
func WithPresorted() Option {
	return func(o *options) {
		o.presorted = true
	}
}

// WithSortMemory bounds the in-memory sort buffer before runs spill to disk.
func WithSortMemory(bytes int64) Option {
	return func(o *options) {
		o.sortMemory = bytes
	}
}

// WithPositions sets the tuple positions recorded in the header.
func WithPositions(ctid, bridgeCtid uint64) Option {
	return func(o *options) {
		o.ctid = ctid
		o.bridgeCtid = bridgeCtid
	}
}

// WithBlockCache caches datafile blocks read from the store, which pays off
// for remote stores.
func WithBlockCache(bytes int64) Option {
	return func(o *options) {
		o.blockCacheBytes = bytes
	}
}

// WithPageCache caches decoded pages, which pays off for compressed
// datafiles.
func WithPageCache(bytes int64) Option {
	return func(o *options) {
		o.pageCacheBytes = bytes
	}
}

// WithMaxRetries bounds optimistic attempts per page during a descent.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithoutFastPath forces every descent through the generic page search.
func WithoutFastPath() Option {
	return func(o *options) {
		o.noFastPath = true
	}
}

func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:     NoopLogger(),
		metrics:    NoopMetricsCollector{},
		fs:         fs.Default,
		sortMemory: sortstream.DefaultMemoryLimit,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
