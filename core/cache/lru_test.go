package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type evictions struct {
	mu   sync.Mutex
	keys []string
}

func (e *evictions) record(k string, _ int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys = append(e.keys, k)
}

func (e *evictions) get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.keys...)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	ev := &evictions{}
	l := NewLRU(LRUOpts[string, int]{Size: 2, OnEvict: ev.record})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)
	_, ok := l.Get("a")
	require.True(t, ok)

	l.Put("c", 3)
	_, ok = l.Get("b")
	require.False(t, ok, "b was least recently used")
	require.Equal(t, []string{"b"}, ev.get())

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 2, l.Len())
}

func TestLRU_ReplaceEvictsOldValue(t *testing.T) {
	var old []int
	l := NewLRU(LRUOpts[string, int]{Size: 2, OnEvict: func(_ string, v int) { old = append(old, v) }})

	l.Put("a", 1)
	l.Put("a", 2)

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, []int{1}, old)
}

func TestLRU_Delete(t *testing.T) {
	ev := &evictions{}
	l := NewLRU(LRUOpts[string, int]{Size: 2, OnEvict: ev.record})

	l.Put("a", 1)
	l.Put("b", 2)
	l.Delete("a")
	l.Delete("missing")

	_, ok := l.Get("a")
	require.False(t, ok)
	v, ok := l.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, []string{"a"}, ev.get())
}

func TestLRU_TTL(t *testing.T) {
	now := time.Unix(0, 0)
	ev := &evictions{}
	l := NewLRU(LRUOpts[string, int]{Size: 4, OnEvict: ev.record, Now: func() time.Time { return now }})

	l.Put("a", 1, WithTTL(time.Minute))
	l.Put("b", 2)

	now = now.Add(59 * time.Second)
	_, ok := l.Get("a")
	require.True(t, ok)

	l.Put("a", 3, WithTTL(time.Minute))
	now = now.Add(30 * time.Second)
	v, ok := l.Get("a")
	require.True(t, ok, "ttl restarts on put")
	require.Equal(t, 3, v)

	now = now.Add(time.Minute)
	_, ok = l.Get("a")
	require.False(t, ok)
	_, ok = l.Get("b")
	require.True(t, ok, "entries without ttl never expire")
	require.Equal(t, []string{"a", "a"}, ev.get())
}

func TestLRU_Close(t *testing.T) {
	ev := &evictions{}
	l := NewLRU(LRUOpts[string, int]{Size: 4, OnEvict: ev.record})
	l.Put("a", 1)
	l.Put("b", 2)

	l.Close()
	require.ElementsMatch(t, []string{"a", "b"}, ev.get())

	_, ok := l.Get("a")
	require.False(t, ok)
	l.Put("c", 3)
	_, ok = l.Get("c")
	require.False(t, ok, "closed cache keeps nothing")
	require.Contains(t, ev.get(), "c")
}

func TestLRU_DefaultSize(t *testing.T) {
	l := NewLRU(LRUOpts[int, int]{})
	for i := range defaultSize + 1 {
		l.Put(i, i)
	}
	require.Equal(t, defaultSize, l.Len())
	_, ok := l.Get(0)
	require.False(t, ok)
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts[string, int]{Size: 8})
	defer l.Close()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 500 {
				k := fmt.Sprint((w + j) % 16)
				l.Put(k, j)
				l.Get(k)
				if j%7 == 0 {
					l.Delete(k)
				}
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 8)
}
