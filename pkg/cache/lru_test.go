package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetExpired", testGetExpired},
		{"SetOverMaxSizeEvictsOldest", testSetOverMaxSizeEvictsOldest},
		{"InvalidateAll", testInvalidateAll},
		{"GetOrLoadCachesSuccess", testGetOrLoadCachesSuccess},
		{"GetOrLoadDoesNotCacheErrors", testGetOrLoadDoesNotCacheErrors},
		{"ConcurrentAccess", testConcurrentAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testSetAndGet(t *testing.T) {
	c := New[string, []string](10, time.Minute)
	c.Set("role:quality", []string{"q@example.com"})

	got, ok := c.Get("role:quality")
	require.True(t, ok)
	assert.Equal(t, []string{"q@example.com"}, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func testGetExpired(t *testing.T) {
	c := New[string, int](10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", 1)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entry is removed on read")
}

func testSetOverMaxSizeEvictsOldest(t *testing.T) {
	c := New[string, int](2, time.Minute)
	base := time.Now()
	for i, k := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Second)
		c.now = func() time.Time { return at }
		c.Set(k, i)
	}

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func testInvalidateAll(t *testing.T) {
	c := New[int, int](10, time.Minute)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Invalidate(1)
	assert.Equal(t, 1, c.Size())
	c.InvalidateAll()
	assert.Equal(t, 0, c.Size())
}

func testGetOrLoadCachesSuccess(t *testing.T) {
	c := New[string, string](10, time.Minute)
	calls := 0
	load := func() (string, error) {
		calls++
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", load)
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	}
	assert.Equal(t, 1, calls)
}

func testGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New[string, string](10, time.Minute)
	_, err := c.GetOrLoad("k", func() (string, error) { return "", errors.New("db down") })
	require.Error(t, err)
	assert.Equal(t, 0, c.Size())
}

func testConcurrentAccess(t *testing.T) {
	c := New[string, int](50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%10)
			c.Set(key, n)
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 10)
}
