package sortstream

import (
	"log/slog"

	"github.com/hupe1980/obtree/internal/fs"
	"github.com/hupe1980/obtree/resource"
)

// DefaultMemoryLimit bounds the in-memory buffer when no limit is set.
const DefaultMemoryLimit = 64 << 20

type options struct {
	memoryLimit int64
	rc          *resource.Controller
	fsys        fs.FileSystem
	tempDir     string
	unique      bool
	logger      *slog.Logger
}

// Option configures a Sorter.
type Option func(*options)

// WithMemoryLimit bounds the bytes buffered before a run is spilled.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) { o.memoryLimit = bytes }
}

// WithResourceController charges buffered tuples to rc's memory budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithFileSystem sets the file system spill runs are written to.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) { o.fsys = fsys }
}

// WithTempDir sets the directory for spill runs. Defaults to os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// WithUnique rejects tuples that repeat the unique key prefix.
func WithUnique(unique bool) Option {
	return func(o *options) { o.unique = unique }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
