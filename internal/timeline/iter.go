package timeline

import "context"

// Item is one retrieved timeline entry: the action plus its actor and
// target resolved to concrete entities (nil when they no longer exist).
type Item struct {
	Action *Action
	Actor  interface{}
	Target interface{}
}

type itemPageFunc func(ctx context.Context, offset, limit int) ([]Item, error)

// ActionIter walks a timeline index lazily, page by page, in the same
// scanner shape as the graph edge iterator.
type ActionIter struct {
	fetch    itemPageFunc
	pageSize int

	buf    []Item
	pos    int
	offset int
	done   bool
	err    error
}

func newActionIter(e *Engine, fetch itemPageFunc, opts FetchOptions) *ActionIter {
	size := opts.PageSize
	if size <= 0 {
		size = e.pageSize
	}
	return &ActionIter{fetch: fetch, pageSize: size, offset: opts.Offset}
}

func (it *ActionIter) Next(ctx context.Context) bool {
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

func (it *ActionIter) Item() Item { return it.buf[it.pos-1] }

func (it *ActionIter) Err() error { return it.err }

func (it *ActionIter) Collect(ctx context.Context, limit int) ([]Item, error) {
	var out []Item
	for it.Next(ctx) {
		out = append(out, it.Item())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Err()
}
