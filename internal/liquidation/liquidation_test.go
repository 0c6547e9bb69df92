package liquidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crux/internal/common"
	"crux/internal/engine"
	"crux/internal/fixedpoint"
	"crux/internal/ledger"
	"crux/internal/oracle"
	"crux/internal/vault"
)

var market = common.MarketIDFromString("BTC-PERP")

func price(f float64) int64 { return int64(f * fixedpoint.PriceScale) }
func size(f float64) uint64 { return uint64(f * fixedpoint.SizeScale) }

type harness struct {
	engine *engine.Engine
	liq    *Engine
	vault  *vault.Vault
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v := vault.New()
	l := ledger.New()
	o := oracle.New()
	e := engine.New(v, l, o, nil)
	e.RegisterMarket(market, price(10))
	liq := New(e, v, l, o, nil)
	return &harness{engine: e, liq: liq, vault: v}
}

// TestLiquidation_ShortUnderwater builds spec scenario 5: a trader short
// 100 @ 10 with marginLocked 1000 (threshold 20); a trade at 21 lifts
// the mark past the threshold. The rest of a third trader's offer at 21
// lets the synthetic BUY execute.
func TestLiquidation_ShortUnderwater(t *testing.T) {
	h := newHarness(t)
	fund := func(trader string, amt int64) { require.NoError(t, h.vault.Deposit(trader, amt)) }

	fund("shorty", price(1000))
	fund("longy", price(100000))

	// shorty opens short 100 @ 10 against longy's resting buy.
	_, _, err := h.engine.PlaceLimitOrder("longy", market, common.Buy, price(10), size(100))
	require.NoError(t, err)
	_, fills, err := h.engine.PlaceLimitOrder("shorty", market, common.Sell, price(10), size(100))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	pos, ok := h.vault.Position("shorty", market)
	require.True(t, ok)
	require.Equal(t, -int64(size(100)), pos.Size)
	require.Equal(t, price(1000), pos.MarginLocked)

	assert.False(t, h.vault.IsLiquidatable("shorty", market, price(19.99)))
	assert.True(t, h.vault.IsLiquidatable("shorty", market, price(21)))

	// Liquidity for the synthetic BUY to close shorty's short; one unit
	// of it trades first so the last-trade mark moves to 21.
	fund("counterparty", price(1000000))
	_, _, err = h.engine.PlaceLimitOrder("counterparty", market, common.Sell, price(21), size(101))
	require.NoError(t, err)
	fund("mover", price(1000))
	_, _, err = h.engine.PlaceLimitOrder("mover", market, common.Buy, price(21), size(1))
	require.NoError(t, err)

	records := h.liq.Scan(market, SystemLiquidator)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "shorty", rec.Trader)
	assert.Equal(t, size(100), rec.Size)
	assert.Equal(t, price(21), rec.LiquidationPrice)
	assert.Greater(t, rec.MarginLost, int64(0))

	_, stillOpen := h.vault.Position("shorty", market)
	assert.False(t, stillOpen)
}

// TestLiquidation_SocializesResidualLoss builds spec scenario 6: when
// the liquidated trader's loss exceeds their margin and available
// collateral, a profitable counterparty's realized P&L is debited to
// cover the residual, and any uncovered remainder is recorded as system
// shortfall.
func TestLiquidation_SocializesResidualLoss(t *testing.T) {
	h := newHarness(t)
	fund := func(trader string, amt int64) { require.NoError(t, h.vault.Deposit(trader, amt)) }

	// shorty has almost no spare collateral beyond the position's own
	// margin, so the loss waterfall has to reach into tier 3.
	fund("shorty", price(1000))
	fund("longy", price(100000))
	fund("donor", price(100000))

	_, _, err := h.engine.PlaceLimitOrder("longy", market, common.Buy, price(10), size(100))
	require.NoError(t, err)
	_, _, err = h.engine.PlaceLimitOrder("shorty", market, common.Sell, price(10), size(100))
	require.NoError(t, err)

	// donor opens a profitable long at the same entry; once mark jumps,
	// donor carries unrealized gains available to socialize from.
	_, _, err = h.engine.PlaceLimitOrder("donor", market, common.Buy, price(10), size(100))
	require.NoError(t, err)
	_, _, err = h.engine.PlaceLimitOrder("longy", market, common.Sell, price(10), size(100))
	require.NoError(t, err)

	// Deep liquidity for the synthetic close at a steep mark so the
	// residual after tiers 1-2 is unambiguously positive.
	// One unit trades first so the last-trade mark moves to 50.
	fund("liquidity", price(10000000))
	_, _, err = h.engine.PlaceLimitOrder("liquidity", market, common.Sell, price(50), size(101))
	require.NoError(t, err)
	fund("mover", price(1000))
	_, _, err = h.engine.PlaceLimitOrder("mover", market, common.Buy, price(50), size(1))
	require.NoError(t, err)

	before := h.vault.MarginSummary("donor")
	records := h.liq.Scan(market, SystemLiquidator)
	require.Len(t, records, 1)
	after := h.vault.MarginSummary("donor")

	assert.Less(t, after.RealizedPnL, before.RealizedPnL)

	finalSummary := h.vault.MarginSummary("shorty")
	assert.GreaterOrEqual(t, finalSummary.AvailableCollateral, int64(0))
}

func TestLiquidation_BelowThresholdIsNoOp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.vault.Deposit("shorty", price(1000)))
	require.NoError(t, h.vault.Deposit("longy", price(100000)))

	_, _, err := h.engine.PlaceLimitOrder("longy", market, common.Buy, price(10), size(100))
	require.NoError(t, err)
	_, _, err = h.engine.PlaceLimitOrder("shorty", market, common.Sell, price(10), size(100))
	require.NoError(t, err)

	records := h.liq.Scan(market, SystemLiquidator)
	assert.Empty(t, records)

	pos, ok := h.vault.Position("shorty", market)
	require.True(t, ok)
	assert.Equal(t, -int64(size(100)), pos.Size)
}

func TestLiquidation_NoLiquidityRecordsFailedSocialization(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.vault.Deposit("shorty", price(1000)))
	require.NoError(t, h.vault.Deposit("longy", price(100000)))

	_, _, err := h.engine.PlaceLimitOrder("longy", market, common.Buy, price(10), size(100))
	require.NoError(t, err)
	_, _, err = h.engine.PlaceLimitOrder("shorty", market, common.Sell, price(10), size(100))
	require.NoError(t, err)

	// Push the last-trade mark well past shorty's threshold with an
	// unrelated fully-matched trade, leaving the book empty on both
	// sides: shorty is now eligible, but there is no resting ask for
	// the synthetic BUY to execute against.
	require.NoError(t, h.vault.Deposit("other1", price(1000)))
	require.NoError(t, h.vault.Deposit("other2", price(1000)))
	_, _, err = h.engine.PlaceLimitOrder("other1", market, common.Buy, price(25), size(1))
	require.NoError(t, err)
	_, _, err = h.engine.PlaceLimitOrder("other2", market, common.Sell, price(25), size(1))
	require.NoError(t, err)

	require.True(t, h.vault.IsLiquidatable("shorty", market, price(25)))

	records := h.liq.Scan(market, SystemLiquidator)
	assert.Empty(t, records)

	_, ok := h.vault.Position("shorty", market)
	assert.True(t, ok, "position remains open for retry")
}
