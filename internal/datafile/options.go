package datafile

import (
	"log/slog"

	"github.com/hupe1980/obtree/internal/cache"
	"github.com/hupe1980/obtree/resource"
)

type options struct {
	compression Compression
	checkpoint  uint32
	rc          *resource.Controller
	logger      *slog.Logger
	cache       cache.BlockCache
}

// Option configures a Writer or Reader.
type Option func(*options)

func applyOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCompression sets the page codec for writes.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithCheckpoint sets the checkpoint number stamped into downlinks.
func WithCheckpoint(n uint32) Option {
	return func(o *options) { o.checkpoint = n }
}

// WithResourceController rate limits writes through rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCache caches decoded pages of a Reader.
func WithCache(c cache.BlockCache) Option {
	return func(o *options) { o.cache = c }
}
