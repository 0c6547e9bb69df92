// Package venue is the narrow public API the edge (CLI/RPC) drives
// (spec §6): it orchestrates the matching engine, the margin vault and
// the liquidation pipeline behind a single façade and translates every
// internal error into the typed taxonomy of spec §7. The engine itself
// recovers its INVARIANT_VIOLATION panic and returns it as an error;
// the venue classifies that error and also recovers any error-valued
// panic that still reaches its placement methods.
package venue

import (
	"errors"
	"fmt"

	"crux/internal/book"
	"crux/internal/common"
	"crux/internal/engine"
	"crux/internal/events"
	"crux/internal/ledger"
	"crux/internal/liquidation"
	"crux/internal/oracle"
	"crux/internal/vault"
)

// ErrorCode is one of the non-overlapping error categories of spec §7.
type ErrorCode string

const (
	CodeInsufficientMargin ErrorCode = "INSUFFICIENT_MARGIN"
	CodeNotOwner           ErrorCode = "NOT_OWNER"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeMarketUnknown      ErrorCode = "MARKET_UNKNOWN"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeNoLiquidity        ErrorCode = "NO_LIQUIDITY"
	CodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
)

// Error is the typed result every venue operation fails with.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func newErr(code ErrorCode, err error) *Error { return &Error{Code: code, Err: err} }

// classify maps an internal sentinel error onto the venue's error
// taxonomy. engine.ErrInvariantViolation, which the engine returns after
// recovering its own invariant panic, maps to INVARIANT_VIOLATION.
func classify(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vault.ErrInsufficientMargin):
		return newErr(CodeInsufficientMargin, err)
	case errors.Is(err, engine.ErrNotOwner):
		return newErr(CodeNotOwner, err)
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, book.ErrNotFound), errors.Is(err, vault.ErrNotFound):
		return newErr(CodeNotFound, err)
	case errors.Is(err, engine.ErrMarketUnknown):
		return newErr(CodeMarketUnknown, err)
	case errors.Is(err, engine.ErrZeroSize):
		return newErr(CodeInvalidRequest, err)
	case errors.Is(err, engine.ErrInvariantViolation):
		return newErr(CodeInvariantViolation, err)
	default:
		return newErr(CodeInvalidRequest, err)
	}
}

// MarketConfig is the administrative payload for RegisterMarket.
type MarketConfig struct {
	SeedPrice int64
}

// Venue wires the engine, vault, ledger, oracle and liquidation pipeline
// together and is the sole entry point the edge talks to.
type Venue struct {
	Engine      *engine.Engine
	Vault       *vault.Vault
	Ledger      *ledger.Ledger
	Oracle      *oracle.Oracle
	Liquidation *liquidation.Engine
	Sink        events.Sink
}

// New wires a fresh venue. sink may be nil, in which case events are
// discarded.
func New(sink events.Sink) *Venue {
	if sink == nil {
		sink = events.NullSink{}
	}
	v := vault.New()
	l := ledger.New()
	o := oracle.New()
	e := engine.New(v, l, o, sink)
	liq := liquidation.New(e, v, l, o, sink)
	return &Venue{Engine: e, Vault: v, Ledger: l, Oracle: o, Liquidation: liq, Sink: sink}
}

// RegisterMarket creates a new market and seeds its mark price.
func (venue *Venue) RegisterMarket(market common.MarketID, cfg MarketConfig) {
	venue.Engine.RegisterMarket(market, cfg.SeedPrice)
}

// Deposit credits a trader's collateral balance.
func (venue *Venue) Deposit(trader string, amount int64) *Error {
	return classify(venue.Vault.Deposit(trader, amount))
}

// Withdraw debits a trader's collateral balance, failing with
// INSUFFICIENT_MARGIN if it would drive availableCollateral negative.
func (venue *Venue) Withdraw(trader string, amount int64) *Error {
	return classify(venue.Vault.Withdraw(trader, amount))
}

// PlaceLimit places a limit order and, if it produced any fills, runs a
// liquidation scan over the affected market before returning.
func (venue *Venue) PlaceLimit(trader string, market common.MarketID, side common.Side, price int64, size uint64) (orderID uint64, fills []common.Trade, vErr *Error) {
	defer venue.recoverInvariant(&vErr)
	orderID, fills, err := venue.Engine.PlaceLimitOrder(trader, market, side, price, size)
	if err != nil {
		return 0, nil, classify(err)
	}
	venue.afterFills(market, fills)
	return orderID, fills, nil
}

// PlaceMarket sweeps the book immediately and, if it produced any
// fills, runs a liquidation scan over the affected market.
func (venue *Venue) PlaceMarket(trader string, market common.MarketID, side common.Side, size uint64, maxSlippageBps uint32) (fills []common.Trade, vErr *Error) {
	defer venue.recoverInvariant(&vErr)
	fills, err := venue.Engine.PlaceMarketOrder(trader, market, side, size, maxSlippageBps)
	if err != nil {
		return nil, classify(err)
	}
	venue.afterFills(market, fills)
	return fills, nil
}

// Cancel removes a resting order.
func (venue *Venue) Cancel(trader string, market common.MarketID, orderID uint64) *Error {
	return classify(venue.Engine.Cancel(trader, market, orderID))
}

// afterFills recomputes the market's mark price and triggers a
// liquidation scan whenever a placement produced at least one fill,
// matching the spec §4.E trigger point "after every fill in a market".
func (venue *Venue) afterFills(market common.MarketID, fills []common.Trade) {
	if len(fills) == 0 {
		return
	}
	m, ok := venue.Engine.Market(market)
	if !ok {
		return
	}
	mark := venue.Oracle.Mark(market, m.Book())
	venue.Vault.MarkPrice(market, mark)
	venue.Liquidation.Scan(market, liquidation.SystemLiquidator)
}

// recoverInvariant converts an engine panic (raised only when a vault
// invariant would otherwise be violated) into an INVARIANT_VIOLATION
// result instead of crashing the process.
func (venue *Venue) recoverInvariant(vErr **Error) {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok {
			*vErr = newErr(CodeInvariantViolation, err)
			return
		}
		panic(r)
	}
}

// TriggerLiquidationScan runs an on-demand liquidation scan over a
// market, crediting the given liquidator for any executed liquidations.
func (venue *Venue) TriggerLiquidationScan(market common.MarketID, liquidator string) []common.LiquidationRecord {
	return venue.Liquidation.Scan(market, liquidator)
}

// OrderBookDepth returns up to `depth` aggregated levels per side.
func (venue *Venue) OrderBookDepth(market common.MarketID, depth int) (bids, asks []book.DepthLevel, vErr *Error) {
	m, ok := venue.Engine.Market(market)
	if !ok {
		return nil, nil, newErr(CodeMarketUnknown, engine.ErrMarketUnknown)
	}
	bids, asks = m.Book().Depth(depth)
	return bids, asks, nil
}

// BestBid returns the best bid price, if any.
func (venue *Venue) BestBid(market common.MarketID) (int64, bool, *Error) {
	m, ok := venue.Engine.Market(market)
	if !ok {
		return 0, false, newErr(CodeMarketUnknown, engine.ErrMarketUnknown)
	}
	p, ok := m.Book().BestPrice(common.Buy)
	return p, ok, nil
}

// BestAsk returns the best ask price, if any.
func (venue *Venue) BestAsk(market common.MarketID) (int64, bool, *Error) {
	m, ok := venue.Engine.Market(market)
	if !ok {
		return 0, false, newErr(CodeMarketUnknown, engine.ErrMarketUnknown)
	}
	p, ok := m.Book().BestPrice(common.Sell)
	return p, ok, nil
}

// MarkPrice returns a market's current mark price.
func (venue *Venue) MarkPrice(market common.MarketID) (int64, *Error) {
	m, ok := venue.Engine.Market(market)
	if !ok {
		return 0, newErr(CodeMarketUnknown, engine.ErrMarketUnknown)
	}
	return venue.Oracle.Mark(market, m.Book()), nil
}

// UserOrders returns a trader's open order ids in a market.
func (venue *Venue) UserOrders(market common.MarketID, trader string) ([]uint64, *Error) {
	m, ok := venue.Engine.Market(market)
	if !ok {
		return nil, newErr(CodeMarketUnknown, engine.ErrMarketUnknown)
	}
	return m.Book().UserOrders(trader), nil
}

// GetOrder returns a snapshot of an order's current book state.
func (venue *Venue) GetOrder(market common.MarketID, orderID uint64) (common.Order, *Error) {
	m, ok := venue.Engine.Market(market)
	if !ok {
		return common.Order{}, newErr(CodeMarketUnknown, engine.ErrMarketUnknown)
	}
	o, ok := m.Book().Get(orderID)
	if !ok {
		return common.Order{}, newErr(CodeNotFound, engine.ErrNotFound)
	}
	return *o, nil
}

// Position returns a trader's position in a market.
func (venue *Venue) Position(trader string, market common.MarketID) (vault.Position, bool) {
	return venue.Vault.Position(trader, market)
}

// MarginSummary returns a trader's full collateral picture.
func (venue *Venue) MarginSummary(trader string) vault.Summary {
	return venue.Vault.MarginSummary(trader)
}

// Trades returns a paginated slice of a trader's trade history.
func (venue *Venue) Trades(trader string, offset, limit int) []common.Trade {
	return venue.Ledger.Trades(trader, offset, limit)
}

// Liquidations returns a trader's liquidation history.
func (venue *Venue) Liquidations(trader string) []common.LiquidationRecord {
	return venue.Ledger.Liquidations(trader)
}
