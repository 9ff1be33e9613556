package chunkcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChunkCachePutGet(t *testing.T) {
	c := NewChunkCache()
	c.PutChunk(1, 0, []byte("hello"))

	got, ok := c.GetChunk(1, 0)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)

	_, ok = c.GetChunk(1, 1)
	require.False(t, ok)
}

func TestChunkCacheTTLExpiry(t *testing.T) {
	c := NewChunkCache()
	c.ttl = 10 * time.Millisecond
	c.PutChunk(1, 0, []byte("hello"))

	time.Sleep(20 * time.Millisecond)

	_, ok := c.GetChunk(1, 0)
	require.False(t, ok)
}

func TestChunkCacheEvictsOldestAtCapacity(t *testing.T) {
	c := NewChunkCache()
	c.capacity = 2

	c.PutChunk(1, 0, []byte("a"))
	c.PutChunk(1, 1, []byte("b"))
	c.PutChunk(1, 2, []byte("c"))

	require.LessOrEqual(t, c.Len(), 2)
	_, ok := c.GetChunk(1, 0)
	require.False(t, ok, "oldest entry should have been evicted")
}

func TestHandleCacheRefreshCollapsesConcurrentCalls(t *testing.T) {
	c := NewHandleCache()
	var mintCalls int64

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := c.Refresh(context.Background(), 1, "sess-a", func(ctx context.Context) (string, error) {
				atomic.AddInt64(&mintCalls, 1)
				time.Sleep(5 * time.Millisecond)
				return "handle-1", nil
			})
			require.NoError(t, err)
			results[i] = handle
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, "handle-1", r)
	}
	require.Equal(t, int64(1), atomic.LoadInt64(&mintCalls))
}

func TestHandleCacheInvalidate(t *testing.T) {
	c := NewHandleCache()
	c.PutHandle(1, "sess-a", "handle-1")
	c.InvalidateHandle(1, "sess-a")

	_, ok := c.GetHandle(1, "sess-a")
	require.False(t, ok)
}

func TestHandleCacheInvalidatePart(t *testing.T) {
	c := NewHandleCache()
	c.PutHandle(1, "sess-a", "h1")
	c.PutHandle(1, "sess-b", "h2")
	c.PutHandle(2, "sess-a", "h3")

	c.InvalidatePartHandles(1)

	_, ok := c.GetHandle(1, "sess-a")
	require.False(t, ok)
	_, ok = c.GetHandle(1, "sess-b")
	require.False(t, ok)
	_, ok = c.GetHandle(2, "sess-a")
	require.True(t, ok)
}
