package cache

import (
	"sync"
	"time"

	"assetfeed/internal/model"
)

type quoteEntry struct {
	quote     model.Quote
	writtenAt time.Time
}

// Quotes is a small memory-only TTL cache for latest quotes. Quotes are
// ephemeral, so there is no disk tier and no eviction pressure to manage;
// stale entries linger only for the degraded-read path.
type Quotes struct {
	ttl time.Duration

	mu    sync.Mutex
	items map[string]quoteEntry
	now   func() time.Time
}

func NewQuotes(ttl time.Duration) *Quotes {
	return &Quotes{ttl: ttl, items: make(map[string]quoteEntry), now: time.Now}
}

// Get returns a quote still within its TTL.
func (q *Quotes) Get(symbol string) (model.Quote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.items[symbol]
	if !ok || q.now().Sub(e.writtenAt) >= q.ttl {
		return model.Quote{}, false
	}
	return e.quote, true
}

// GetStale returns the last known quote regardless of TTL.
func (q *Quotes) GetStale(symbol string) (model.Quote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.items[symbol]
	return e.quote, ok
}

// Set stores the latest quote for its symbol.
func (q *Quotes) Set(quote model.Quote) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[quote.Symbol] = quoteEntry{quote: quote, writtenAt: q.now()}
}

// Invalidate drops the quote for symbol.
func (q *Quotes) Invalidate(symbol string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, symbol)
}
