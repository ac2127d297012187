package cache

import (
	"container/list"
	"sync"
	"time"
)

const defaultSize = 128

type LRUOpts[K comparable, V any] struct {
	// Size bounds the number of entries. Defaults to 128.
	Size int

	// OnEvict is called for every entry leaving the cache: on eviction,
	// expiry, replacement, Delete and Close. It runs without the cache lock held.
	OnEvict func(key K, val V)

	// Now is the clock used for TTLs. Defaults to time.Now.
	Now func() time.Time
}

type entry[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
}

// LRU is a size-bounded least-recently-used cache safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	ll      *list.List
	items   map[K]*list.Element
	size    int
	closed  bool
	onEvict func(K, V)
	now     func() time.Time
}

func NewLRU[K comparable, V any](opts LRUOpts[K, V]) *LRU[K, V] {
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU[K, V]{
		ll:      list.New(),
		items:   make(map[K]*list.Element),
		size:    opts.Size,
		onEvict: opts.OnEvict,
		now:     opts.Now,
	}
}

func (l *LRU[K, V]) Get(key K) (v V, ok bool) {
	l.mu.Lock()
	ele, ok := l.items[key]
	if !ok {
		l.mu.Unlock()
		return v, false
	}
	e := ele.Value.(*entry[K, V])
	if !e.expires.IsZero() && !l.now().Before(e.expires) {
		l.removeLocked(ele)
		l.mu.Unlock()
		l.evicted(e)
		return v, false
	}
	l.ll.MoveToFront(ele)
	l.mu.Unlock()
	return e.val, true
}

func (l *LRU[K, V]) Put(key K, val V, opts ...PutOption) {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	e := &entry[K, V]{key: key, val: val}
	if po.TTL > 0 {
		e.expires = l.now().Add(po.TTL)
	}

	var out []*entry[K, V]
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.evicted(e)
		return
	}
	if ele, ok := l.items[key]; ok {
		out = append(out, ele.Value.(*entry[K, V]))
		ele.Value = e
		l.ll.MoveToFront(ele)
	} else {
		l.items[key] = l.ll.PushFront(e)
		for l.ll.Len() > l.size {
			last := l.ll.Back()
			out = append(out, last.Value.(*entry[K, V]))
			l.removeLocked(last)
		}
	}
	l.mu.Unlock()
	l.evicted(out...)
}

func (l *LRU[K, V]) Delete(key K) {
	l.mu.Lock()
	ele, ok := l.items[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	l.removeLocked(ele)
	l.mu.Unlock()
	l.evicted(ele.Value.(*entry[K, V]))
}

// Len returns the number of entries, expired ones included.
func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

// Close evicts all entries. Later Puts are evicted immediately.
func (l *LRU[K, V]) Close() {
	l.mu.Lock()
	l.closed = true
	out := make([]*entry[K, V], 0, l.ll.Len())
	for ele := l.ll.Front(); ele != nil; ele = ele.Next() {
		out = append(out, ele.Value.(*entry[K, V]))
	}
	l.ll.Init()
	clear(l.items)
	l.mu.Unlock()
	l.evicted(out...)
}

func (l *LRU[K, V]) removeLocked(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry[K, V]).key)
}

func (l *LRU[K, V]) evicted(es ...*entry[K, V]) {
	if l.onEvict == nil {
		return
	}
	for _, e := range es {
		l.onEvict(e.key, e.val)
	}
}

var _ Cache[string, any] = (*LRU[string, any])(nil)
