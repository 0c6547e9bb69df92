// Package oracle derives each market's mark price (spec component F):
// book mid when both sides are populated, else the last trade price,
// else a configured seed. It reads the book and keeps its own seed and
// last-trade prices (fed by RecordTrade) — it never mutates the book.
package oracle

import (
	"sync"

	"crux/internal/book"
	"crux/internal/common"
)

// Oracle tracks the seed price and last trade price per market so it can
// fall back when the book empties out on one or both sides.
type Oracle struct {
	mu         sync.Mutex
	seeds      map[common.MarketID]int64
	lastTrade  map[common.MarketID]int64
}

// New creates an oracle with no seeded markets.
func New() *Oracle {
	return &Oracle{
		seeds:     make(map[common.MarketID]int64),
		lastTrade: make(map[common.MarketID]int64),
	}
}

// Seed sets a market's fallback price, used before any trade has ever
// happened and the book is empty on at least one side.
func (o *Oracle) Seed(market common.MarketID, price int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seeds[market] = price
}

// RecordTrade updates the last-trade fallback price for a market.
func (o *Oracle) RecordTrade(market common.MarketID, price int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastTrade[market] = price
}

// Mark computes the mark price for a market given its current book.
// Recomputed lazily on every call — there is no cached/stale value.
func (o *Oracle) Mark(market common.MarketID, b *book.Book) int64 {
	bid, hasBid := b.BestPrice(common.Buy)
	ask, hasAsk := b.BestPrice(common.Sell)
	if hasBid && hasAsk {
		return (bid + ask) / 2
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if last, ok := o.lastTrade[market]; ok {
		return last
	}
	return o.seeds[market]
}
