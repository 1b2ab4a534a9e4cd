package compaction

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// WarmCache holds recently-committed output rowsets in memory so the next
// read against a tablet doesn't have to go to disk for data compaction
// just produced. Preload failures are logged and otherwise ignored —
// spec.md §4.A's Callbacks section marks this "not fatal".
type WarmCache struct {
	cache *lru.Cache[string, Rowset]
	log   *zap.Logger
}

// NewWarmCache creates a warm cache holding up to size rowsets.
func NewWarmCache(size int, log *zap.Logger) (*WarmCache, error) {
	c, err := lru.New[string, Rowset](size)
	if err != nil {
		return nil, err
	}
	return &WarmCache{cache: c, log: log}, nil
}

// Preload loads r's backing segment and stores it under key, logging a
// warning (not an error) on failure.
func (w *WarmCache) Preload(key string, r Rowset) {
	if err := r.Load(); err != nil {
		w.log.Warn("warm cache preload failed", zap.String("rowset", key), zap.Error(err))
		return
	}
	w.cache.Add(key, r)
}

// Get returns the cached rowset for key, if present.
func (w *WarmCache) Get(key string) (Rowset, bool) {
	return w.cache.Get(key)
}

// Remove evicts key from the cache.
func (w *WarmCache) Remove(key string) {
	w.cache.Remove(key)
}
