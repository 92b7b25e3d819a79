package graph

import "context"

// DefaultPageSize is the fetch granularity used when ListOptions leaves
// PageSize unset. It matches the paging unit of the fan-out job.
const DefaultPageSize = 10

// PageFunc fetches one page of edges at the given absolute offset.
// Backends supply one per listing.
type PageFunc func(ctx context.Context, offset, limit int) ([]Edge, error)

// Iter walks an edge listing lazily, one page at a time. Usage follows
// the scanner pattern:
//
//	it := backend.GetFollowers(ref, graph.ListOptions{})
//	for it.Next(ctx) {
//	    edge := it.Edge()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Iter struct {
	fetch    PageFunc
	pageSize int

	buf    []Edge
	pos    int
	offset int
	done   bool
	err    error
}

// NewIter wraps a page fetcher in a lazy iterator.
func NewIter(fetch PageFunc, opts ListOptions) *Iter {
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Iter{fetch: fetch, pageSize: size, offset: opts.Offset}
}

// ErrIter returns an iterator that yields nothing and reports err.
func ErrIter(err error) *Iter {
	return &Iter{err: err, done: true}
}

func (it *Iter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.pos < len(it.buf) {
		it.pos++
		return true
	}
	if it.done {
		return false
	}

	page, err := it.fetch(ctx, it.offset, it.pageSize)
	if err != nil {
		it.err = err
		return false
	}
	if len(page) < it.pageSize {
		it.done = true
	}
	if len(page) == 0 {
		return false
	}
	it.offset += len(page)
	it.buf = page
	it.pos = 1
	return true
}

// Edge returns the edge advanced to by the last Next call.
func (it *Iter) Edge() Edge { return it.buf[it.pos-1] }

func (it *Iter) Err() error { return it.err }

// Collect drains up to limit remaining edges (all of them when limit <= 0).
func (it *Iter) Collect(ctx context.Context, limit int) ([]Edge, error) {
	var out []Edge
	for it.Next(ctx) {
		out = append(out, it.Edge())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Err()
}
