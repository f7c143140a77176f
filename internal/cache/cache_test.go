package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiryCheckedOnRead(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := New()
	c.now = func() time.Time { return now }

	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Empty(t, c.items)
}

func TestCleanup(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := New()
	c.now = func() time.Time { return now }

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	now = now.Add(time.Minute)

	assert.Equal(t, 1, c.Cleanup())
	assert.Len(t, c.items, 1)
	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestGenerateKeySeparatesParts(t *testing.T) {
	assert.Equal(t, GenerateKey("a", "b"), GenerateKey("a", "b"))
	assert.NotEqual(t, GenerateKey("ab", ""), GenerateKey("a", "b"))
	assert.Len(t, GenerateKey("x"), 64)
}

func TestClear(t *testing.T) {
	c := New()
	c.Set("a", 1, time.Hour)
	c.Set("b", nil, time.Hour)
	c.Clear()
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Empty(t, c.items)
}
