package header

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/resource"
)

// LatestSuffix names the blob that points at the newest header of a tree.
const LatestSuffix = ".LATEST"

const headerExt = ".hdr"

// FileName returns the blob name of the header of checkpoint chkp.
func FileName(name string, chkp uint32) string {
	return fmt.Sprintf("%s.%08d%s", name, chkp, headerExt)
}

// LatestName returns the blob name of the LATEST pointer of a tree.
func LatestName(name string) string { return name + LatestSuffix }

// Store persists header records and LATEST pointers in a blob store and
// optionally mirrors them to a remote store.
type Store struct {
	store  blobstore.BlobStore
	remote blobstore.BlobStore
	rc     *resource.Controller
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithRemote mirrors every written checkpoint to remote.
func WithRemote(remote blobstore.BlobStore) Option {
	return func(s *Store) { s.remote = remote }
}

// WithResourceController bounds uploads by rc's background slots and IO rate.
func WithResourceController(rc *resource.Controller) Option {
	return func(s *Store) { s.rc = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a header store over store.
func NewStore(store blobstore.BlobStore, opts ...Option) *Store {
	s := &Store{store: store, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write persists hdr as checkpoint chkpNum of tree name and moves the LATEST
// pointer to it. A header file is never overwritten: writing an existing
// checkpoint fails with ErrCheckpointExists.
//
// With a remote store configured, Write schedules an upload of attachments
// (such as the datafile), the header and the pointer, and returns its task.
// The task is nil otherwise.
func (s *Store) Write(ctx context.Context, name string, chkpNum uint32, hdr FileHeader, attachments ...string) (*UploadTask, error) {
	hdr.ChkpNum = chkpNum
	data, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	file := FileName(name, chkpNum)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cp, ok := s.store.(blobstore.ConditionalPutter); ok {
		err = cp.PutIfAbsent(ctx, file, data)
	} else {
		err = s.putIfMissing(ctx, file, data)
	}
	if errors.Is(err, blobstore.ErrExists) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointExists, file)
	}
	if err != nil {
		return nil, fmt.Errorf("header: write %s: %w", file, err)
	}
	if err := s.store.Put(ctx, LatestName(name), []byte(file)); err != nil {
		return nil, fmt.Errorf("header: update %s: %w", LatestName(name), err)
	}
	s.logger.Info("header written", "file", file, "root", hdr.RootDownlink, "leaf_pages", hdr.LeafPagesNum)

	if s.remote == nil {
		return nil, nil
	}
	files := append(slices.Clone(attachments), file)
	return s.upload(ctx, name, file, files), nil
}

func (s *Store) putIfMissing(ctx context.Context, file string, data []byte) error {
	b, err := s.store.Open(ctx, file)
	if err == nil {
		_ = b.Close()
		return blobstore.ErrExists
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	return s.store.Put(ctx, file, data)
}

// Read returns the header of checkpoint chkp of tree name.
func (s *Store) Read(ctx context.Context, name string, chkp uint32) (FileHeader, error) {
	return s.readFile(ctx, FileName(name, chkp))
}

// ReadLatest returns the header the LATEST pointer of tree name refers to.
func (s *Store) ReadLatest(ctx context.Context, name string) (FileHeader, error) {
	target, err := blobstore.ReadAll(ctx, s.store, LatestName(name))
	if errors.Is(err, blobstore.ErrNotFound) {
		return FileHeader{}, fmt.Errorf("%w: %s", ErrNotFound, LatestName(name))
	}
	if err != nil {
		return FileHeader{}, err
	}
	return s.readFile(ctx, strings.TrimSpace(string(target)))
}

func (s *Store) readFile(ctx context.Context, file string) (FileHeader, error) {
	data, err := blobstore.ReadAll(ctx, s.store, file)
	if errors.Is(err, blobstore.ErrNotFound) {
		return FileHeader{}, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if err != nil {
		return FileHeader{}, err
	}
	var hdr FileHeader
	if err := hdr.UnmarshalBinary(data); err != nil {
		return FileHeader{}, fmt.Errorf("%s: %w", file, err)
	}
	return hdr, nil
}

// Checkpoints lists the checkpoint numbers with a header for tree name,
// ascending.
func (s *Store) Checkpoints(ctx context.Context, name string) ([]uint32, error) {
	names, err := s.store.List(ctx, name+".")
	if err != nil {
		return nil, err
	}
	var out []uint32
	for _, n := range names {
		rest, ok := strings.CutPrefix(n, name+".")
		if !ok {
			continue
		}
		num, ok := strings.CutSuffix(rest, headerExt)
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(v))
	}
	slices.Sort(out)
	return out, nil
}

// Delete removes the header of checkpoint chkp. The LATEST pointer is left
// untouched.
func (s *Store) Delete(ctx context.Context, name string, chkp uint32) error {
	return s.store.Delete(ctx, FileName(name, chkp))
}
