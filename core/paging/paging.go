// Package paging implements keyset paging over listings ordered newest
// first: descending by an ordering value, then descending by id.
//
// A listing is fetched one [Page] at a time. The first page has no bound;
// every later page holds the ordering value and id of the last element seen
// and selects what comes strictly after it. Pages encode to opaque cursors
// for callers that resume a listing later.
package paging

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

const DefaultSize = 1000

var ErrInvalidPage = errors.New("invalid page")

// Page selects one batch of a listing. Create pages with First or Page.Next.
type Page[P any] struct {
	size int
	next bool
	// bound of a next page: elements ordered at or before maxOrdering and,
	// on a tie, with an id below offset
	maxOrdering P
	offset      string
}

// First returns the first page of the given size.
func First[P any](size int) (Page[P], error) {
	if size <= 0 {
		return Page[P]{}, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidPage, size)
	}
	return Page[P]{size: size}, nil
}

func (p Page[P]) Size() int { return p.size }

// IsFirst reports whether p starts the listing.
func (p Page[P]) IsFirst() bool { return !p.next }

// Bound returns the ordering value and id the page continues after. ok is
// false for a first page.
func (p Page[P]) Bound() (maxOrdering P, offset string, ok bool) {
	return p.maxOrdering, p.offset, p.next
}

// Next returns the page following an element ordered at maxOrdering with id
// offset. The size is kept.
func (p Page[P]) Next(maxOrdering P, offset string) Page[P] {
	return Page[P]{size: p.size, next: true, maxOrdering: maxOrdering, offset: offset}
}

// WithMinSize caps the size of p at size.
func (p Page[P]) WithMinSize(size int) Page[P] {
	if size > 0 && size < p.size {
		p.size = size
	}
	return p
}

type pageJSON[P any] struct {
	Type          string `json:"type"`
	Size          int    `json:"size"`
	MaxOrdering   *P     `json:"maxOrdering,omitempty"`
	ModelIDOffset string `json:"modelIdOffset,omitempty"`
}

func (p Page[P]) MarshalJSON() ([]byte, error) {
	if !p.next {
		return json.Marshal(pageJSON[P]{Type: "first", Size: p.size})
	}
	return json.Marshal(pageJSON[P]{Type: "next", Size: p.size, MaxOrdering: &p.maxOrdering, ModelIDOffset: p.offset})
}

func (p *Page[P]) UnmarshalJSON(b []byte) error {
	var raw pageJSON[P]
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidPage, raw.Size)
	}
	switch raw.Type {
	case "first":
		*p = Page[P]{size: raw.Size}
	case "next":
		if raw.MaxOrdering == nil || raw.ModelIDOffset == "" {
			return fmt.Errorf("%w: next page without bound", ErrInvalidPage)
		}
		*p = Page[P]{size: raw.Size, next: true, maxOrdering: *raw.MaxOrdering, offset: raw.ModelIDOffset}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPage, raw.Type)
	}
	return nil
}

// Cursor encodes p for transport.
func (p Page[P]) Cursor() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ParseCursor decodes a cursor made by Page.Cursor.
func ParseCursor[P any](cursor string) (Page[P], error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return Page[P]{}, fmt.Errorf("%w: %w", ErrInvalidPage, err)
	}
	var p Page[P]
	if err := json.Unmarshal(b, &p); err != nil {
		return Page[P]{}, err
	}
	return p, nil
}

// List is one fetched batch together with the page that follows it.
type List[E, P any] struct {
	Items []E
	next  Page[P]
	more  bool
}

// NewList wraps the items fetched for page. A full batch has a next page,
// bounded by the last item; a short one ends the listing.
func NewList[E, P any](items []E, page Page[P], ordering func(E) P, id func(E) string) List[E, P] {
	l := List[E, P]{Items: items}
	if len(items) == 0 || len(items) < page.size {
		return l
	}
	last := items[len(items)-1]
	l.next, l.more = page.Next(ordering(last), id(last)), true
	return l
}

// NextPage returns the page after l. ok is false at the end of the listing.
func (l List[E, P]) NextPage() (page Page[P], ok bool) { return l.next, l.more }

// Fetch loads the batch selected by a page.
type Fetch[E, P any] func(ctx context.Context, page Page[P]) (List[E, P], error)

// Batches fetches the listing batch by batch, starting at the first page of
// the given size. Iteration stops at the first error, which is yielded.
func Batches[E, P any](ctx context.Context, size int, fetch Fetch[E, P]) iter.Seq2[[]E, error] {
	return func(yield func([]E, error) bool) {
		page, err := First[P](size)
		for err == nil {
			if err = ctx.Err(); err != nil {
				break
			}
			var l List[E, P]
			if l, err = fetch(ctx, page); err != nil {
				break
			}
			if len(l.Items) > 0 && !yield(l.Items, nil) {
				return
			}
			var more bool
			if page, more = l.NextPage(); !more {
				return
			}
		}
		yield(nil, err)
	}
}

// All yields the elements of every batch in order.
func All[E, P any](ctx context.Context, size int, fetch Fetch[E, P]) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		for batch, err := range Batches(ctx, size, fetch) {
			if err != nil {
				var zero E
				yield(zero, err)
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}
