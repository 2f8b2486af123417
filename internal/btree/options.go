package btree

import (
	"log/slog"

	"github.com/hupe1980/obtree/resource"
)

// DefaultMaxRetries bounds optimistic attempts per page before the reader
// takes a snapshot instead.
const DefaultMaxRetries = 8

type options struct {
	maxRetries int
	rc         *resource.Controller
	logger     *slog.Logger
	noFastPath bool
}

// Option configures a Reader.
type Option func(*options)

// WithMaxRetries sets how often a fast-path probe is retried on a page that
// changed concurrently.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithResourceController charges resident pages against rc's memory budget.
// Pages that do not fit are read again on every visit.
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

// WithoutFastPath forces every descent through the generic search.
func WithoutFastPath() Option {
	return func(o *options) { o.noFastPath = true }
}
