// Package ledger is the append-only event log and trade history (spec
// component G): every committed trade and liquidation is recorded here,
// indexed by trader, for audit, pagination and the global counters the
// edge queries. Emission happens after a fill commits but before any
// liquidation side-effects of that fill, so a record is never lost to a
// later stage failing (spec §4.G).
package ledger

import (
	"sync"
	"time"

	"crux/internal/common"
)

// FailedSocialization records a liquidation attempt that found no
// opposite-side liquidity at all (spec §4.E "Failure semantics").
type FailedSocialization struct {
	Trader    string
	Market    common.MarketID
	Timestamp time.Time
}

// Ledger is the trade/liquidation history for the whole venue.
type Ledger struct {
	mu sync.Mutex

	nextTradeID uint64
	trades      []common.Trade
	byTrader    map[string][]int // indices into trades
	byMarket    map[common.MarketID][]int

	liquidations map[string][]common.LiquidationRecord

	totalVolume uint64
	totalFees   int64
	shortfall   int64

	failedSocializations []FailedSocialization

	// recentPerMarket bounds how many trade indices we keep per market
	// for the "recent trades" query, so a long-lived market doesn't grow
	// an unbounded slice.
	recentPerMarket int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		byTrader:        make(map[string][]int),
		byMarket:        make(map[common.MarketID][]int),
		liquidations:    make(map[string][]common.LiquidationRecord),
		recentPerMarket: 1000,
	}
}

// RecordTrade assigns the next trade id, appends the record, and indexes
// it by trader and market. Trade ids are contiguous and strictly
// increasing, matching the "no record ever lost" ordering guarantee of
// spec §8.
func (l *Ledger) RecordTrade(t common.Trade) common.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextTradeID++
	t.ID = l.nextTradeID
	idx := len(l.trades)
	l.trades = append(l.trades, t)

	l.byTrader[t.Buyer] = append(l.byTrader[t.Buyer], idx)
	l.byTrader[t.Seller] = append(l.byTrader[t.Seller], idx)

	marketIdx := append(l.byMarket[t.Market], idx)
	if len(marketIdx) > l.recentPerMarket {
		marketIdx = marketIdx[len(marketIdx)-l.recentPerMarket:]
	}
	l.byMarket[t.Market] = marketIdx

	l.totalVolume += t.Size
	l.totalFees += t.BuyerFee + t.SellerFee
	return t
}

// TradeCount returns how many trades a trader has participated in.
func (l *Ledger) TradeCount(trader string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byTrader[trader])
}

// Trades returns a paginated, oldest-first slice of a trader's trades.
func (l *Ledger) Trades(trader string, offset, limit int) []common.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	indices := l.byTrader[trader]
	if offset >= len(indices) {
		return nil
	}
	end := offset + limit
	if end > len(indices) || limit <= 0 {
		end = len(indices)
	}
	out := make([]common.Trade, 0, end-offset)
	for _, idx := range indices[offset:end] {
		out = append(out, l.trades[idx])
	}
	return out
}

// RecentTrades returns up to `limit` of a market's most recent trades,
// newest first.
func (l *Ledger) RecentTrades(market common.MarketID, limit int) []common.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	indices := l.byMarket[market]
	n := limit
	if n > len(indices) || n <= 0 {
		n = len(indices)
	}
	out := make([]common.Trade, 0, n)
	for i := len(indices) - 1; i >= len(indices)-n; i-- {
		out = append(out, l.trades[indices[i]])
	}
	return out
}

// GlobalCounters returns venue-wide totals: trade count, traded volume
// (size-ticks) and fees collected (quote-ticks).
func (l *Ledger) GlobalCounters() (trades int, volume uint64, fees int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades), l.totalVolume, l.totalFees
}

// RecordLiquidation appends a liquidation record for a trader.
func (l *Ledger) RecordLiquidation(rec common.LiquidationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.liquidations[rec.Trader] = append(l.liquidations[rec.Trader], rec)
}

// Liquidations returns a trader's liquidation history, oldest first.
func (l *Ledger) Liquidations(trader string) []common.LiquidationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]common.LiquidationRecord(nil), l.liquidations[trader]...)
}

// RecordShortfall adds to the insurance-fund debit counter: the portion
// of a liquidation's loss that no ADL donor could cover. Never dropped
// silently (spec §4.E).
func (l *Ledger) RecordShortfall(amount int64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shortfall += amount
}

// Shortfall returns the cumulative uncovered-loss counter.
func (l *Ledger) Shortfall() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shortfall
}

// RecordFailedSocialization logs a liquidation attempt that found no
// liquidity at all on the needed side.
func (l *Ledger) RecordFailedSocialization(trader string, market common.MarketID, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failedSocializations = append(l.failedSocializations, FailedSocialization{
		Trader: trader, Market: market, Timestamp: ts,
	})
}

// FailedSocializations returns every recorded failed-liquidation event,
// for administrative inspection.
func (l *Ledger) FailedSocializations() []FailedSocialization {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FailedSocialization(nil), l.failedSocializations...)
}
