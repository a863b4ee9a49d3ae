package candle

import "sync"

// DefaultCapacity is the 2-hour rolling window spec.md's RollingWindow
// mandates (120 one-minute candles).
const DefaultCapacity = 120

// Cache is the in-memory rolling window per symbol (C3). Writers are
// expected to be single-writer-per-symbol via the shard dispatcher in
// internal/service; the internal mutex only protects against concurrent
// readers (e.g. metrics, HTTP introspection) racing a writer.
type Cache struct {
	mu       sync.Mutex
	capacity int
	windows  map[string][]Candle
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		windows:  make(map[string][]Candle),
	}
}

// Update inserts or overwrites (by OpenTimeMs) the symbol's window, keeping
// ascending order and dropping the oldest entry on overflow.
func (c *Cache) Update(symbol string, candle Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.windows[symbol]

	for i := range w {
		if w[i].OpenTimeMs == candle.OpenTimeMs {
			w[i] = candle
			c.windows[symbol] = w
			return
		}
	}

	// Insert keeping ascending order; arrival order matches timestamp order
	// per the per-symbol ordering guarantee, so this is almost always an
	// append, but an out-of-order backfill tick is still handled correctly.
	insertAt := len(w)
	for i := range w {
		if candle.OpenTimeMs < w[i].OpenTimeMs {
			insertAt = i
			break
		}
	}
	w = append(w, Candle{})
	copy(w[insertAt+1:], w[insertAt:])
	w[insertAt] = candle

	if len(w) > c.capacity {
		w = w[len(w)-c.capacity:]
	}

	c.windows[symbol] = w
}

// Snapshot returns a copy of the symbol's current window, oldest-first.
func (c *Cache) Snapshot(symbol string) []Candle {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.windows[symbol]
	out := make([]Candle, len(w))
	copy(out, w)
	return out
}

// Len reports the current window length for a symbol.
func (c *Cache) Len(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows[symbol])
}
