package header

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/obtree/resource"
)

// uploadConcurrency bounds parallel file copies of one task.
const uploadConcurrency = 4

// UploadTask tracks an asynchronous mirror of one checkpoint.
type UploadTask struct {
	done chan struct{}
	err  error

	mu       sync.Mutex
	uploaded []string
}

// Done is closed when the upload finished.
func (t *UploadTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the upload finished or ctx is done.
func (t *UploadTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Uploaded returns the names copied so far.
func (t *UploadTask) Uploaded() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.uploaded...)
}

func (t *UploadTask) record(name string) {
	t.mu.Lock()
	t.uploaded = append(t.uploaded, name)
	t.mu.Unlock()
}

// upload copies files, then the LATEST pointer, to the remote store. The
// pointer goes last so a remote reader never sees it ahead of its data.
func (s *Store) upload(ctx context.Context, name, file string, files []string) *UploadTask {
	task := &UploadTask{done: make(chan struct{})}
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(task.done)
		start := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(uploadConcurrency)
		for _, f := range files {
			g.Go(func() error {
				if err := s.copyBlob(gctx, f); err != nil {
					return err
				}
				task.record(f)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			task.err = err
			s.logger.Error("checkpoint upload failed", "file", file, "error", err)
			return
		}
		if err := s.remote.Put(ctx, LatestName(name), []byte(file)); err != nil {
			task.err = fmt.Errorf("header: upload %s: %w", LatestName(name), err)
			s.logger.Error("checkpoint upload failed", "file", file, "error", err)
			return
		}
		task.record(LatestName(name))
		s.logger.Info("checkpoint uploaded", "file", file, "files", len(files)+1, "duration", time.Since(start))
	}()
	return task
}

func (s *Store) copyBlob(ctx context.Context, name string) error {
	if err := s.rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer s.rc.ReleaseBackground()

	src, err := s.store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("header: upload %s: %w", name, err)
	}
	defer src.Close()
	if src.Size() == 0 {
		return s.remote.Put(ctx, name, nil)
	}

	r, err := src.ReadRange(ctx, 0, src.Size())
	if err != nil {
		return fmt.Errorf("header: upload %s: %w", name, err)
	}
	defer r.Close()

	dst, err := s.remote.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("header: upload %s: %w", name, err)
	}
	if _, err := io.Copy(resource.NewRateLimitedWriter(ctx, dst, s.rc), r); err != nil {
		_ = dst.Close()
		return fmt.Errorf("header: upload %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("header: upload %s: %w", name, err)
	}
	return nil
}
