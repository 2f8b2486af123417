package datafile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/internal/cache"
)

// Reader reads pages of an immutable datafile by downlink. Close waits for
// reads in flight.
type Reader struct {
	mu     sync.RWMutex
	closed bool
	blob   blobstore.Blob
	name   string
	size   int64
	mapped []byte
	cache  cache.BlockCache
	logger *slog.Logger
}

// NewReader reads pages from blob. name scopes cache keys and must be unique
// among datafiles sharing a cache.
func NewReader(blob blobstore.Blob, name string, opts ...Option) *Reader {
	o := applyOptions(opts)
	r := &Reader{
		blob:   blob,
		name:   name,
		size:   blob.Size(),
		cache:  o.cache,
		logger: o.logger,
	}
	if m, ok := blob.(blobstore.Mappable); ok {
		if b, err := m.Bytes(); err == nil {
			r.mapped = b
		}
	}
	return r
}

// Name returns the datafile name.
func (r *Reader) Name() string { return r.name }

// Size returns the datafile length in bytes.
func (r *Reader) Size() int64 { return r.size }

// ReadPage returns the decoded image addressed by d. The returned slice may
// be shared with the cache and must not be modified.
func (r *Reader) ReadPage(ctx context.Context, d Downlink) ([]byte, error) {
	if !d.IsOnDisk() || d.LengthUnits() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, d)
	}
	off, n := d.Offset(), int64(d.Length())
	if off+n > r.size {
		return nil, fmt.Errorf("%w: %s past end of %s (%d bytes)", ErrCorrupt, d, r.name, r.size)
	}

	key := cache.CacheKey{Kind: cache.CacheKindPage, File: r.name, Offset: uint64(d)}
	if r.cache != nil {
		if b, ok := r.cache.Get(ctx, key); ok {
			return b, nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	var block []byte
	if r.mapped != nil {
		block = r.mapped[off : off+n]
	} else {
		block = make([]byte, n)
		if _, err := r.blob.ReadAt(ctx, block, off); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("datafile: read %s: %w", d, err)
		}
	}

	img, err := decodeBlock(block)
	if err != nil {
		r.logger.Error("bad page", "file", r.name, "downlink", d.String(), "error", err)
		return nil, fmt.Errorf("%s: %w", d, err)
	}
	if r.cache != nil {
		r.cache.Set(ctx, key, img)
	}
	return img, nil
}

// Close closes the underlying blob.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.mapped = nil
	return r.blob.Close()
}
