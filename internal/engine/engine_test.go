package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crux/internal/common"
	"crux/internal/fixedpoint"
	"crux/internal/ledger"
	"crux/internal/oracle"
	"crux/internal/vault"
)

var market = common.MarketIDFromString("BTC-PERP")

func price(f float64) int64   { return int64(f * fixedpoint.PriceScale) }
func size(f float64) uint64   { return uint64(f * fixedpoint.SizeScale) }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	v := vault.New()
	e := New(v, ledger.New(), oracle.New(), nil)
	e.RegisterMarket(market, price(10))
	return e
}

func fund(t *testing.T, e *Engine, trader string, amount int64) {
	t.Helper()
	require.NoError(t, e.Vault.Deposit(trader, amount))
}

func TestLimitCrossesRestingLimit(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "maker", price(10000))
	fund(t, e, "taker", price(10000))

	_, fills, err := e.PlaceLimitOrder("maker", market, common.Sell, price(10), size(5))
	require.NoError(t, err)
	assert.Empty(t, fills)

	_, fills, err = e.PlaceLimitOrder("taker", market, common.Buy, price(10), size(5))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, price(10), fills[0].Price)
	assert.Equal(t, size(5), fills[0].Size)

	makerPos, ok := e.Vault.Position("maker", market)
	require.True(t, ok)
	assert.Equal(t, -int64(size(5)), makerPos.Size)

	takerPos, ok := e.Vault.Position("taker", market)
	require.True(t, ok)
	assert.Equal(t, int64(size(5)), takerPos.Size)
}

func TestPartialFillRestsRemainder(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "maker", price(10000))
	fund(t, e, "taker", price(10000))

	_, _, err := e.PlaceLimitOrder("maker", market, common.Sell, price(10), size(3))
	require.NoError(t, err)

	id, fills, err := e.PlaceLimitOrder("taker", market, common.Buy, price(10), size(5))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, size(3), fills[0].Size)

	m, _ := e.Market(market)
	o, ok := m.Book().Get(id)
	require.True(t, ok)
	assert.Equal(t, common.StatusPartial, o.Status)
	assert.Equal(t, size(2), o.Remaining())
}

func TestMakerPriceWins(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "maker", price(10000))
	fund(t, e, "taker", price(10000))

	_, _, err := e.PlaceLimitOrder("maker", market, common.Sell, price(9), size(5))
	require.NoError(t, err)

	_, fills, err := e.PlaceLimitOrder("taker", market, common.Buy, price(11), size(5))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, price(9), fills[0].Price)
}

func TestMarketOrderSlippageCap(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "maker", price(10000))
	fund(t, e, "taker", price(10000))

	_, _, err := e.PlaceLimitOrder("maker", market, common.Sell, price(10), size(2))
	require.NoError(t, err)
	_, _, err = e.PlaceLimitOrder("maker", market, common.Sell, price(20), size(2))
	require.NoError(t, err)

	fills, err := e.PlaceMarketOrder("taker", market, common.Buy, size(4), 100)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, size(2), fills[0].Size)
}

func TestCancelReleasesReservation(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "trader", price(1000))

	id, _, err := e.PlaceLimitOrder("trader", market, common.Buy, price(10), size(5))
	require.NoError(t, err)

	afterReserve := e.Vault.AvailableCollateral("trader")
	assert.Less(t, afterReserve, price(1000))

	require.NoError(t, e.Cancel("trader", market, id))
	assert.Equal(t, price(1000), e.Vault.AvailableCollateral("trader"))
}

func TestCancelNotOwner(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "trader", price(1000))

	id, _, err := e.PlaceLimitOrder("trader", market, common.Buy, price(10), size(5))
	require.NoError(t, err)

	err = e.Cancel("someone-else", market, id)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestInsufficientMarginRejectsOrder(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "trader", price(1))

	_, _, err := e.PlaceLimitOrder("trader", market, common.Buy, price(10), size(5))
	assert.ErrorIs(t, err, vault.ErrInsufficientMargin)
}

func TestSelfTradeAllowed(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, "trader", price(10000))

	_, _, err := e.PlaceLimitOrder("trader", market, common.Sell, price(10), size(5))
	require.NoError(t, err)

	_, fills, err := e.PlaceLimitOrder("trader", market, common.Buy, price(10), size(5))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "trader", fills[0].Buyer)
	assert.Equal(t, "trader", fills[0].Seller)
}
