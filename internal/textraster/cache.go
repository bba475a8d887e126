package textraster

import (
	"sync"

	"golang.org/x/image/math/fixed"
)

// DefaultCacheLimit caps the number of cached glyph metrics
const DefaultCacheLimit = 10000

type glyphKey struct {
	r    rune
	size fixed.Int26_6
}

type glyphMetrics struct {
	bounds  fixed.Rectangle26_6
	advance fixed.Int26_6
	notdef  bool // the font has no glyph for the rune; glyph 0 stands in
}

// metricsCache is a bounded glyph metrics map. When full it is cleared
// wholesale instead of evicting single entries.
type metricsCache struct {
	mu    sync.Mutex
	limit int
	items map[glyphKey]glyphMetrics
}

func newMetricsCache(limit int) *metricsCache {
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	return &metricsCache{
		limit: limit,
		items: make(map[glyphKey]glyphMetrics),
	}
}

func (c *metricsCache) get(k glyphKey) (glyphMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.items[k]
	return m, ok
}

func (c *metricsCache) put(k glyphKey, m glyphMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.limit {
		c.items = make(map[glyphKey]glyphMetrics)
	}
	c.items[k] = m
}

func (c *metricsCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *metricsCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[glyphKey]glyphMetrics)
}
