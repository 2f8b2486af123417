package build

import "log/slog"

type options struct {
	ctid       uint64
	bridgeCtid uint64
	fillFactor int
	checkOrder bool
	logger     *slog.Logger
	attach     []string
}

// Option configures a build.
type Option func(*options)

// WithPositions sets the initial tuple positions recorded in the header.
func WithPositions(ctid, bridgeCtid uint64) Option {
	return func(o *options) {
		o.ctid = ctid
		o.bridgeCtid = bridgeCtid
	}
}

// WithFillFactor overrides the descriptor's fill factor (10..100).
func WithFillFactor(ff int) Option {
	return func(o *options) { o.fillFactor = ff }
}

// WithOrderCheck makes AddTuple reject tuples that sort before their
// predecessor and, for unique trees, tuples that repeat its non-null unique
// prefix.
func WithOrderCheck(enabled bool) Option {
	return func(o *options) { o.checkOrder = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAttachments names blobs, such as the datafile, that WriteIndexData
// uploads along with the header when the header store mirrors remotely.
func WithAttachments(names ...string) Option {
	return func(o *options) { o.attach = append(o.attach, names...) }
}
