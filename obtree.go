package obtree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/internal/btree"
	"github.com/hupe1980/obtree/internal/build"
	"github.com/hupe1980/obtree/internal/cache"
	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/internal/fs"
	"github.com/hupe1980/obtree/internal/header"
	"github.com/hupe1980/obtree/internal/sortstream"
	"github.com/hupe1980/obtree/tuple"
)

// DataFileName returns the datafile name of checkpoint chkp of tree name.
func DataFileName(name string, chkp uint32) string {
	return fmt.Sprintf("%s.%08d.dat", name, chkp)
}

// TupleSource yields leaf tuples. ok is false once the source is drained.
type TupleSource interface {
	Next(ctx context.Context) (tup tuple.Tuple, ok bool, err error)
}

// SliceSource is a TupleSource over an in-memory slice.
type SliceSource struct {
	tuples []tuple.Tuple
	pos    int
}

// NewSliceSource returns a source yielding tuples in order.
func NewSliceSource(tuples []tuple.Tuple) *SliceSource {
	return &SliceSource{tuples: tuples}
}

// Next implements TupleSource.
func (s *SliceSource) Next(context.Context) (tuple.Tuple, bool, error) {
	if s.pos >= len(s.tuples) {
		return tuple.Tuple{}, false, nil
	}
	s.pos++
	return s.tuples[s.pos-1], true, nil
}

// BuildResult describes a finished build.
type BuildResult struct {
	Checkpoint uint32
	Tuples     uint64
	RootLevel  int
	LeafPages  uint32
	// DataFile is the datafile name relative to the build directory.
	DataFile string
	Header   header.FileHeader
	// Upload is set when the build is mirrored to a remote store and
	// WithWaitUpload was not given.
	Upload *header.UploadTask
}

// Build writes tree name into dir as a new checkpoint. Tuples are sorted
// first unless WithPresorted is given.
//
// Example:
//
//	desc, _ := obtree.NewIndex("ids").Int8("id").Int4("v").Key("id").Descr()
//	res, err := obtree.Build(ctx, "./data", "ids", desc, obtree.NewSliceSource(tuples))
func Build(ctx context.Context, dir, name string, desc *tuple.IndexDescr, src TupleSource, optFns ...Option) (res BuildResult, err error) {
	o := applyOptions(optFns)
	start := time.Now()
	defer func() {
		o.metrics.RecordBuild(res.Tuples, time.Since(start), err)
		o.logger.LogBuild(ctx, name, res.Checkpoint, res.Tuples, err)
	}()

	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return BuildResult{}, err
	}
	headers := header.NewStore(blobstore.NewLocalStore(dir),
		header.WithRemote(o.remote),
		header.WithResourceController(o.rc),
		header.WithLogger(o.logger.Logger),
	)

	chkp := o.checkpoint
	if chkp != 0 {
		// The datafile is created before the header, so an existing
		// checkpoint must be refused before its datafile is truncated.
		_, err := headers.Read(ctx, name, chkp)
		switch {
		case err == nil:
			return BuildResult{}, fmt.Errorf("%w: %s checkpoint %d", ErrCheckpointExists, name, chkp)
		case !errors.Is(err, header.ErrNotFound):
			return BuildResult{}, translateError(err)
		}
	} else {
		latest, err := headers.ReadLatest(ctx, name)
		switch {
		case err == nil:
			chkp = latest.ChkpNum + 1
		case errors.Is(err, header.ErrNotFound):
			chkp = 1
		default:
			return BuildResult{}, translateError(err)
		}
	}

	var source build.TupleSource = src
	if !o.presorted {
		sorter := sortstream.New(desc,
			sortstream.WithMemoryLimit(o.sortMemory),
			sortstream.WithResourceController(o.rc),
			sortstream.WithFileSystem(o.fs),
			sortstream.WithTempDir(dir),
			sortstream.WithUnique(desc.IsUnique()),
			sortstream.WithLogger(o.logger.Logger),
		)
		defer sorter.Close()
		for {
			if err := ctx.Err(); err != nil {
				return BuildResult{}, err
			}
			tup, ok, err := src.Next(ctx)
			if err != nil {
				return BuildResult{}, err
			}
			if !ok {
				break
			}
			if err := sorter.Add(ctx, tup); err != nil {
				return BuildResult{}, translateError(err)
			}
		}
		if err := sorter.Sort(ctx); err != nil {
			return BuildResult{}, translateError(err)
		}
		source = sorter
	}

	dataFile := DataFileName(name, chkp)
	w, err := datafile.Create(o.fs, filepath.Join(dir, dataFile),
		datafile.WithCompression(o.compression),
		datafile.WithCheckpoint(chkp),
		datafile.WithResourceController(o.rc),
		datafile.WithLogger(o.logger.Logger),
	)
	if err != nil {
		return BuildResult{}, err
	}
	defer w.Close()
	// The header written at the end of the build refers to the datafile by
	// name, so its directory entry must be durable first.
	if err := fs.SyncDir(o.fs, dir); err != nil {
		return BuildResult{}, err
	}

	bopts := []build.Option{
		build.WithOrderCheck(o.presorted),
		build.WithLogger(o.logger.Logger),
		build.WithAttachments(dataFile),
		build.WithPositions(o.ctid, o.bridgeCtid),
	}
	if o.fillFactor != 0 {
		bopts = append(bopts, build.WithFillFactor(o.fillFactor))
	}
	out, err := build.WriteIndexData(ctx, desc, source, w, headers, name, bopts...)
	if err != nil {
		return BuildResult{}, translateError(err)
	}
	if err := w.Close(); err != nil {
		return BuildResult{}, err
	}

	res = BuildResult{
		Checkpoint: chkp,
		Tuples:     out.Tuples,
		RootLevel:  int(out.Header.RootLevel),
		LeafPages:  out.Header.LeafPagesNum,
		DataFile:   dataFile,
		Header:     out.Header,
		Upload:     out.Upload,
	}
	if out.Upload != nil && o.waitUpload {
		if err := out.Upload.Wait(ctx); err != nil {
			return res, fmt.Errorf("obtree: upload: %w", err)
		}
		res.Upload = nil
	}
	return res, nil
}

// Index is an opened tree. It is read-only and safe for concurrent use.
type Index struct {
	name string
	desc *tuple.IndexDescr
	hdr  header.FileHeader
	data *datafile.Reader
	tree *btree.Reader
	opts options
	// caches created by Open, closed with the index
	caches []cache.BlockCache
}

// Open opens the latest checkpoint of tree name stored in store.
//
// Example:
//
//	idx, err := obtree.Open(ctx, blobstore.NewLocalStore("./data"), "ids", desc)
//	defer idx.Close()
func Open(ctx context.Context, store blobstore.BlobStore, name string, desc *tuple.IndexDescr, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	var caches []cache.BlockCache
	if o.blockCacheBytes > 0 {
		bc := cache.NewShardedLRUBlockCache(o.blockCacheBytes, o.rc)
		caches = append(caches, bc)
		store = blobstore.NewCachingStore(store, bc, blobstore.DefaultCacheBlockSize)
	}
	closeCaches := func() {
		for _, c := range caches {
			_ = c.Close()
		}
	}

	headers := header.NewStore(store, header.WithLogger(o.logger.Logger))
	var (
		hdr header.FileHeader
		err error
	)
	if o.checkpoint != 0 {
		hdr, err = headers.Read(ctx, name, o.checkpoint)
	} else {
		hdr, err = headers.ReadLatest(ctx, name)
	}
	if err != nil {
		closeCaches()
		o.logger.LogOpen(ctx, name, 0, err)
		return nil, translateError(err)
	}
	idx, err := openHeader(ctx, store, name, desc, hdr, o)
	if err != nil {
		closeCaches()
		return nil, err
	}
	idx.caches = append(idx.caches, caches...)
	return idx, nil
}

// OpenLocal opens the latest checkpoint of tree name from dir.
func OpenLocal(ctx context.Context, dir, name string, desc *tuple.IndexDescr, optFns ...Option) (*Index, error) {
	return Open(ctx, blobstore.NewLocalStore(dir), name, desc, optFns...)
}

func openHeader(ctx context.Context, store blobstore.BlobStore, name string, desc *tuple.IndexDescr, hdr header.FileHeader, o options) (*Index, error) {
	dataFile := DataFileName(name, hdr.ChkpNum)
	blob, err := store.Open(ctx, dataFile)
	if err != nil {
		o.logger.LogOpen(ctx, name, hdr.ChkpNum, err)
		return nil, translateError(fmt.Errorf("open %s: %w", dataFile, err))
	}
	if uint64(blob.Size()) < hdr.DatafileLength {
		_ = blob.Close()
		err := fmt.Errorf("%w: datafile %s is %d bytes, header expects %d", ErrCorrupt, dataFile, blob.Size(), hdr.DatafileLength)
		o.logger.LogOpen(ctx, name, hdr.ChkpNum, err)
		return nil, err
	}

	var (
		dopts  []datafile.Option
		caches []cache.BlockCache
	)
	if o.pageCacheBytes > 0 {
		pc := cache.NewLRUBlockCache(o.pageCacheBytes, o.rc)
		caches = append(caches, pc)
		dopts = append(dopts, datafile.WithCache(pc))
	}
	dopts = append(dopts, datafile.WithResourceController(o.rc), datafile.WithLogger(o.logger.Logger))
	data := datafile.NewReader(blob, dataFile, dopts...)

	topts := []btree.Option{
		btree.WithResourceController(o.rc),
		btree.WithLogger(o.logger.Logger),
	}
	if o.maxRetries > 0 {
		topts = append(topts, btree.WithMaxRetries(o.maxRetries))
	}
	if o.noFastPath {
		topts = append(topts, btree.WithoutFastPath())
	}

	idx := &Index{
		name:   name,
		desc:   desc,
		hdr:    hdr,
		data:   data,
		tree:   btree.NewReader(desc, data, hdr, topts...),
		opts:   o,
		caches: caches,
	}
	o.logger.LogOpen(ctx, name, hdr.ChkpNum, nil)
	return idx, nil
}

// Name returns the tree name.
func (idx *Index) Name() string { return idx.name }

// Descr returns the tuple descriptor.
func (idx *Index) Descr() *tuple.IndexDescr { return idx.desc }

// Header returns the file header the index was opened from.
func (idx *Index) Header() header.FileHeader { return idx.hdr }

// Stats returns read path counters.
func (idx *Index) Stats() btree.Stats { return idx.tree.Stats() }

// Lookup returns every tuple whose key equals key on the compared fields.
func (idx *Index) Lookup(ctx context.Context, key tuple.SearchKey) ([]tuple.Tuple, error) {
	start := time.Now()
	out, err := idx.tree.Lookup(ctx, key)
	err = translateError(err)
	idx.opts.metrics.RecordLookup(len(out), time.Since(start), err)
	idx.opts.logger.LogLookup(ctx, idx.name, len(out), err)
	return out, err
}

// LookupBatch runs Lookup for every key.
func (idx *Index) LookupBatch(ctx context.Context, keys []tuple.SearchKey) ([][]tuple.Tuple, error) {
	start := time.Now()
	out, err := idx.tree.LookupBatch(ctx, keys)
	err = translateError(err)
	n := 0
	for _, o := range out {
		n += len(o)
	}
	idx.opts.metrics.RecordLookup(n, time.Since(start), err)
	return out, err
}

// Seek returns an iterator positioned before the first tuple whose key is
// not below key. The caller must Close it.
func (idx *Index) Seek(ctx context.Context, key tuple.SearchKey) (*btree.Iterator, error) {
	it, err := idx.tree.Seek(ctx, key)
	return it, translateError(err)
}

// Verify checks the structure of the whole tree.
func (idx *Index) Verify(ctx context.Context) (btree.Report, error) {
	start := time.Now()
	rep, err := idx.tree.Verify(ctx)
	err = translateError(err)
	idx.opts.metrics.RecordVerify(rep.Pages, time.Since(start), err)
	idx.opts.logger.LogVerify(ctx, idx.name, rep.Pages, rep.Tuples, err)
	return rep, err
}

// Close releases the index.
func (idx *Index) Close() error {
	if idx == nil {
		return nil
	}
	var firstErr error
	if err := idx.tree.Close(); err != nil {
		firstErr = err
	}
	if err := idx.data.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, c := range idx.caches {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Checkpoints lists the checkpoints of tree name in store, oldest first.
func Checkpoints(ctx context.Context, store blobstore.BlobStore, name string) ([]uint32, error) {
	chkps, err := header.NewStore(store).Checkpoints(ctx, name)
	return chkps, translateError(err)
}
