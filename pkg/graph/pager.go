package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Page is one page of a Graph collection.
type Page[T any] struct {
	Value     []T    `json:"value"`
	NextLink  string `json:"@odata.nextLink,omitempty"`
	DeltaLink string `json:"@odata.deltaLink,omitempty"`
	Count     *int64 `json:"@odata.count,omitempty"`
}

// Pager walks a collection by following @odata.nextLink. Each page is a
// separate request through Client.Do, so token renewal and retries apply
// per page. A Pager is not safe for concurrent use.
type Pager[T any] struct {
	client    *Client
	next      string
	deltaLink string
	pages     int
}

// NewPager starts at path, relative to the Graph base URL or absolute
// (e.g. a stored delta link).
func NewPager[T any](c *Client, path string) *Pager[T] {
	return &Pager[T]{client: c, next: path}
}

// Next fetches the next page. After the last page it returns
// ErrNoMorePages. Cancellation takes effect at the next page boundary.
func (p *Pager[T]) Next(ctx context.Context) (*Page[T], error) {
	if p.next == "" {
		return nil, ErrNoMorePages
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	var page Page[T]
	if err := p.client.GetJSON(ctx, p.next, &page); err != nil {
		return nil, err
	}

	p.pages++
	p.next = page.NextLink
	if page.NextLink == "" {
		p.deltaLink = page.DeltaLink
	}
	return &page, nil
}

// Pages yields every remaining page. Iteration stops after the first error.
func (p *Pager[T]) Pages(ctx context.Context) iter.Seq2[*Page[T], error] {
	return func(yield func(*Page[T], error) bool) {
		for {
			page, err := p.Next(ctx)
			if errors.Is(err, ErrNoMorePages) {
				return
			}
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// All concatenates the values of every remaining page.
func (p *Pager[T]) All(ctx context.Context) ([]T, error) {
	var all []T
	for page, err := range p.Pages(ctx) {
		if err != nil {
			return all, err
		}
		all = append(all, page.Value...)
	}
	return all, nil
}

// DeltaLink is the @odata.deltaLink of the last page, set once a delta
// query has been read to the end.
func (p *Pager[T]) DeltaLink() string { return p.deltaLink }

// PagesRead is the number of pages fetched so far.
func (p *Pager[T]) PagesRead() int { return p.pages }

// List is a convenience for NewPager(c, path).All(ctx).
func List[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	return NewPager[T](c, path).All(ctx)
}

