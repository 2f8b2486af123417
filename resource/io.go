package resource

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer with IO rate limiting.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, rc: rc}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// RateLimitedWriterAt wraps an io.WriterAt with IO rate limiting. The
// context is passed per call because page writers outlive any one request.
type RateLimitedWriterAt struct {
	w  io.WriterAt
	rc *Controller
}

// NewRateLimitedWriterAt creates a new RateLimitedWriterAt.
func NewRateLimitedWriterAt(w io.WriterAt, rc *Controller) *RateLimitedWriterAt {
	return &RateLimitedWriterAt{w: w, rc: rc}
}

// WriteAt waits for IO budget, then writes p at off.
func (w *RateLimitedWriterAt) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := w.rc.AcquireIO(ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.WriteAt(p, off)
}
