package billcache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"billtrack/internal/cache"
	"billtrack/internal/core"
	"billtrack/internal/gateway"
	"billtrack/internal/log"
)

const summaryKey = "today"

// SummaryWatcher serves the server's summary for today, cached for a short
// TTL and invalidated whenever the bill data changes.
type SummaryWatcher struct {
	api    gateway.Doer
	cache  cache.Cache[core.DailySummary]
	logger *log.Logger
	stop   func()

	mu  sync.Mutex
	gen uint64
}

// NewSummaryWatcher subscribes to data changes of bills. Call Close to
// unsubscribe.
func NewSummaryWatcher(api gateway.Doer, bills *Cache, c cache.Cache[core.DailySummary], logger *log.Logger) *SummaryWatcher {
	w := &SummaryWatcher{
		api:    api,
		cache:  c,
		logger: logger.WithComponent(log.ComponentSummary),
	}
	w.stop = bills.OnDataChanged(w.Invalidate)
	return w
}

// NewSummaryCache returns the cache used by NewSummaryWatcher.
func NewSummaryCache(ttl time.Duration) *cache.LRUCache[core.DailySummary] {
	return cache.NewLRUCache[core.DailySummary](1, ttl)
}

// Today returns today's income and expense totals.
func (w *SummaryWatcher) Today(ctx context.Context) (core.DailySummary, error) {
	if s, ok := w.cache.Get(summaryKey); ok {
		return s, nil
	}

	w.mu.Lock()
	gen := w.gen
	w.mu.Unlock()

	var s core.DailySummary
	if err := w.api.Do(ctx, gateway.Request{Method: http.MethodGet, Path: billsPath + "today_summary/"}, &s); err != nil {
		return core.DailySummary{}, fmt.Errorf("fetch today summary: %w", err)
	}

	// A summary fetched before an invalidation may predate the change.
	w.mu.Lock()
	if w.gen == gen {
		w.cache.Set(summaryKey, s)
	}
	w.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached summary, including one still being fetched.
func (w *SummaryWatcher) Invalidate() {
	w.mu.Lock()
	w.gen++
	w.cache.Purge()
	w.mu.Unlock()
	w.logger.Debug("Today summary invalidated")
}

func (w *SummaryWatcher) Close() {
	if w.stop != nil {
		w.stop()
	}
}
