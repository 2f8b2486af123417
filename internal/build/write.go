package build

import (
	"context"
	"fmt"

	"github.com/hupe1980/obtree/internal/header"
	"github.com/hupe1980/obtree/tuple"
)

// TupleSource yields leaf tuples in key order. ok is false once the source
// is drained. *sortstream.Sorter implements it.
type TupleSource interface {
	Next(ctx context.Context) (tup tuple.Tuple, ok bool, err error)
}

// Result is the outcome of WriteIndexData.
type Result struct {
	Header header.FileHeader
	Tuples uint64
	// Upload is non-nil when the header store mirrors to a remote store.
	Upload *header.UploadTask
}

// WriteIndexData builds a tree from src, syncs the datafile and persists
// the file header as checkpoint w.Checkpoint() of tree name.
func WriteIndexData(ctx context.Context, desc *tuple.IndexDescr, src TupleSource, w PageWriter, headers *header.Store, name string, opts ...Option) (Result, error) {
	s := Start(desc, w, opts...)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		tup, ok, err := src.Next(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("build: read tuple %d: %w", s.Tuples(), err)
		}
		if !ok {
			break
		}
		if err := s.AddTuple(ctx, tup); err != nil {
			return Result{}, err
		}
	}

	hdr, err := s.Finish(ctx)
	if err != nil {
		return Result{}, err
	}
	if syncer, ok := w.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return Result{}, fmt.Errorf("build: sync datafile: %w", err)
		}
	}

	res := Result{Header: hdr, Tuples: s.Tuples()}
	if headers == nil {
		return res, nil
	}
	task, err := headers.Write(ctx, name, w.Checkpoint(), hdr, s.opts.attach...)
	if err != nil {
		return Result{}, err
	}
	res.Header.ChkpNum = w.Checkpoint()
	res.Upload = task
	return res, nil
}
