package obtree

import (
	"context"
	"iter"
	"time"

	"github.com/hupe1980/obtree/tuple"
)

// Search creates a new fluent search builder starting at key.
//
// Example:
//
//	tuples, err := idx.Search(key).
//	    Equal().
//	    Limit(100).
//	    Execute(ctx)
//
//	// Or with streaming:
//	for tup, err := range idx.Search(tuple.NoneKey()).Stream(ctx) {
//	    if err != nil { break }
//	    process(tup)
//	}
func (idx *Index) Search(from tuple.SearchKey) *SearchBuilder {
	return &SearchBuilder{
		idx:  idx,
		from: from,
	}
}

// SearchBuilder is a fluent builder for constructing range searches.
type SearchBuilder struct {
	idx   *Index
	from  tuple.SearchKey
	until *tuple.SearchKey
	equal bool
	limit int
}

// Equal stops the search at the first tuple that does not match the start
// key on its compared fields.
func (sb *SearchBuilder) Equal() *SearchBuilder {
	sb.equal = true
	return sb
}

// Until stops the search before the first tuple whose key is not below key.
func (sb *SearchBuilder) Until(key tuple.SearchKey) *SearchBuilder {
	sb.until = &key
	return sb
}

// Limit caps the number of returned tuples. Zero means no limit.
func (sb *SearchBuilder) Limit(n int) *SearchBuilder {
	sb.limit = n
	return sb
}

// Execute runs the search and returns copies of the matching tuples.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]tuple.Tuple, error) {
	var out []tuple.Tuple
	for tup, err := range sb.Stream(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, tup.Clone())
	}
	return out, nil
}

// Stream returns an iterator over matching tuples in key order. Yielded
// tuples are valid until the next iteration.
// The iterator supports early termination by breaking from the loop.
func (sb *SearchBuilder) Stream(ctx context.Context) iter.Seq2[tuple.Tuple, error] {
	return func(yield func(tuple.Tuple, error) bool) {
		start := time.Now()
		n := 0
		var err error
		defer func() {
			sb.idx.opts.metrics.RecordScan(n, time.Since(start), err)
		}()

		desc := sb.idx.desc
		var fromParts, untilParts tuple.Parts
		if sb.equal {
			if fromParts, err = desc.Decompose(sb.from); err != nil {
				yield(tuple.Tuple{}, err)
				return
			}
		}
		if sb.until != nil {
			if untilParts, err = desc.Decompose(*sb.until); err != nil {
				yield(tuple.Tuple{}, err)
				return
			}
		}

		it, err := sb.idx.Seek(ctx, sb.from)
		if err != nil {
			yield(tuple.Tuple{}, err)
			return
		}
		defer it.Close()

		for it.Next() {
			tup := it.Tuple()
			if sb.equal {
				c, cerr := desc.CompareLeaf(fromParts, tup)
				if cerr != nil {
					err = cerr
					yield(tuple.Tuple{}, err)
					return
				}
				if c != 0 {
					return
				}
			}
			if sb.until != nil {
				c, cerr := desc.CompareLeaf(untilParts, tup)
				if cerr != nil {
					err = cerr
					yield(tuple.Tuple{}, err)
					return
				}
				if c <= 0 {
					return
				}
			}
			n++
			if !yield(tup, nil) {
				return
			}
			if sb.limit > 0 && n >= sb.limit {
				return
			}
		}
		if err = translateError(it.Err()); err != nil {
			yield(tuple.Tuple{}, err)
		}
	}
}

// First returns the first matching tuple, or ErrNotFound if none matches.
func (sb *SearchBuilder) First(ctx context.Context) (tuple.Tuple, error) {
	sb.limit = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return tuple.Tuple{}, err
	}
	if len(results) == 0 {
		return tuple.Tuple{}, ErrNotFound
	}
	return results[0], nil
}

// Count executes the search and returns the number of results.
func (sb *SearchBuilder) Count(ctx context.Context) (int, error) {
	n := 0
	for _, err := range sb.Stream(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Exists checks if at least one tuple matches the search.
func (sb *SearchBuilder) Exists(ctx context.Context) (bool, error) {
	sb.limit = 1
	n, err := sb.Count(ctx)
	return n > 0, err
}
