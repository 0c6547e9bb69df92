package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crux/internal/common"
)

var market = common.MarketIDFromString("BTC-PERP")

func trade(buyer, seller string, price int64, size uint64) common.Trade {
	return common.Trade{Market: market, Buyer: buyer, Seller: seller, Price: price, Size: size}
}

func TestRecordTrade_AssignsContiguousIDsAndIndexesByTrader(t *testing.T) {
	l := New()
	t1 := l.RecordTrade(trade("a", "b", 100, 10))
	t2 := l.RecordTrade(trade("b", "a", 105, 5))

	assert.EqualValues(t, 1, t1.ID)
	assert.EqualValues(t, 2, t2.ID)
	assert.Equal(t, 2, l.TradeCount("a"))
	assert.Equal(t, 2, l.TradeCount("b"))
	assert.Equal(t, 0, l.TradeCount("c"))
}

func TestTrades_Pagination(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.RecordTrade(trade("a", "b", int64(100+i), 1))
	}

	page := l.Trades("a", 0, 2)
	assert.Len(t, page, 2)
	assert.EqualValues(t, 100, page[0].Price)
	assert.EqualValues(t, 101, page[1].Price)

	rest := l.Trades("a", 2, 100)
	assert.Len(t, rest, 3)

	assert.Empty(t, l.Trades("a", 10, 10))
}

func TestRecentTrades_NewestFirstAndBounded(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		l.RecordTrade(trade("a", "b", int64(100+i), 1))
	}

	recent := l.RecentTrades(market, 2)
	assert.Len(t, recent, 2)
	assert.EqualValues(t, 102, recent[0].Price, "newest trade first")
	assert.EqualValues(t, 101, recent[1].Price)
}

func TestGlobalCounters(t *testing.T) {
	l := New()
	tr := trade("a", "b", 100, 10)
	tr.BuyerFee = 1
	tr.SellerFee = 2
	l.RecordTrade(tr)

	trades, volume, fees := l.GlobalCounters()
	assert.Equal(t, 1, trades)
	assert.EqualValues(t, 10, volume)
	assert.EqualValues(t, 3, fees)
}

func TestLiquidationsAndShortfall(t *testing.T) {
	l := New()
	l.RecordLiquidation(common.LiquidationRecord{Trader: "a", Market: market, Size: 100})
	l.RecordLiquidation(common.LiquidationRecord{Trader: "a", Market: market, Size: 50})
	assert.Len(t, l.Liquidations("a"), 2)
	assert.Empty(t, l.Liquidations("nobody"))

	l.RecordShortfall(30)
	l.RecordShortfall(-5) // ignored, never goes negative
	assert.EqualValues(t, 30, l.Shortfall())
}

func TestRecordFailedSocialization(t *testing.T) {
	l := New()
	now := time.Now()
	l.RecordFailedSocialization("a", market, now)
	got := l.FailedSocializations()
	assert.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Trader)
}
