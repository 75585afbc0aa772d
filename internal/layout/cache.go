package layout

import (
	"sync"

	"github.com/talgya/cityforge/internal/params"
)

// cacheKey holds only the inputs Build reads, so demographic changes such
// as population drift still hit.
type cacheKey struct {
	size    int
	density float64
	risk    float64
	climate params.Climate
	terrain params.Terrain
	sp      params.Spacing
}

func keyFor(p params.CityParameters, sp params.Spacing) cacheKey {
	return cacheKey{
		size:    p.Size,
		density: p.PopulationDensity,
		risk:    p.EnvironmentalRisk,
		climate: p.Climate,
		terrain: p.Terrain,
		sp:      sp,
	}
}

// Cache memoizes layouts on the layout-shaping parameters. Returned layouts are shared
// and must be treated as read-only.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*Layout
	order   []cacheKey // insertion order, oldest first
	limit   int
}

// NewCache returns a cache holding at most limit layouts.
func NewCache(limit int) *Cache {
	if limit < 1 {
		limit = 1
	}
	return &Cache{entries: make(map[cacheKey]*Layout), limit: limit}
}

// Get returns the layout for (p, sp), building it on a miss.
func (c *Cache) Get(p params.CityParameters, sp params.Spacing) *Layout {
	key := keyFor(p, sp)

	c.mu.Lock()
	if l, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return l
	}
	c.mu.Unlock()

	l := Build(p, sp)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	if len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = l
	c.order = append(c.order, key)
	return l
}

// Len returns the number of cached layouts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
