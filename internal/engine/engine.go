// Package engine is the matching engine (spec component C): crossing,
// partial fills, the market-order slippage cap, and the margin
// reservation dance that goes with placing and cancelling orders. It
// drives the order store (internal/book) and the margin vault
// (internal/vault) but owns neither — per spec §3 "Ownership", mutation
// of book state and collateral state only ever happens through their own
// packages' operations.
package engine

import (
	"errors"
	"sync"
	"time"

	"crux/internal/book"
	"crux/internal/common"
	"crux/internal/events"
	"crux/internal/fixedpoint"
	"crux/internal/ledger"
	"crux/internal/oracle"
	"crux/internal/vault"
)

var (
	// ErrNotOwner is returned by Cancel when the caller is not the
	// order's trader.
	ErrNotOwner = errors.New("not the order owner")
	// ErrNotFound is returned by Cancel/Get for an unknown or already
	// removed order.
	ErrNotFound = errors.New("order not found")
	// ErrMarketUnknown is returned for an unregistered market id.
	ErrMarketUnknown = errors.New("unknown market")
	// ErrZeroSize is returned when an order's size is zero.
	ErrZeroSize = errors.New("order size must be positive")
)

// invariantViolation is panicked by the crossing loop if the vault
// reports a state that should be impossible under a legal call sequence.
// It is recovered only at the engine's public method boundary, per spec
// §7: INVARIANT_VIOLATION aborts the whole transaction rather than
// being recovered from mid-flight.
type invariantViolation struct{ err error }

// ErrInvariantViolation is the sentinel surfaced to callers when the
// crossing loop aborts on an invariant violation.
var ErrInvariantViolation = errors.New("invariant violation")

// Market is one order book plus the per-market bookkeeping the spec asks
// for: a monotonic order-id counter and the active-trader set that scopes
// liquidation scans (spec §9).
type Market struct {
	mu            sync.Mutex
	id            common.MarketID
	book          *book.Book
	nextOrderID   uint64
	activeTraders map[string]struct{}
}

// ID returns the market's identifier.
func (m *Market) ID() common.MarketID { return m.id }

// Book exposes the underlying order store for read-only queries
// (depth, best bid/ask) — callers must not mutate it directly.
func (m *Market) Book() *book.Book { return m.book }

// ActiveTraders returns every trader who has placed an order or had a
// fill in this market, used by the liquidation scan to bound its work.
// Entries are never removed, so the set also holds traders whose
// positions are closed or were never opened.
func (m *Market) ActiveTraders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.activeTraders))
	for t := range m.activeTraders {
		out = append(out, t)
	}
	return out
}

// Engine owns every registered market plus the shared vault, ledger and
// oracle they all drive fills through.
type Engine struct {
	mu      sync.RWMutex
	markets map[common.MarketID]*Market

	Vault  *vault.Vault
	Ledger *ledger.Ledger
	Oracle *oracle.Oracle
	Sink   events.Sink
}

// New creates an engine over a shared vault, ledger and oracle. Sink may
// be nil, in which case events are discarded.
func New(v *vault.Vault, l *ledger.Ledger, o *oracle.Oracle, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Engine{
		markets: make(map[common.MarketID]*Market),
		Vault:   v,
		Ledger:  l,
		Oracle:  o,
		Sink:    sink,
	}
}

// RegisterMarket creates a new, empty market and seeds its mark price.
func (e *Engine) RegisterMarket(id common.MarketID, seedPrice int64) *Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := &Market{id: id, book: book.New(), activeTraders: make(map[string]struct{})}
	e.markets[id] = m
	e.Oracle.Seed(id, seedPrice)
	return m
}

// Market looks up a registered market.
func (e *Engine) Market(id common.MarketID) (*Market, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[id]
	return m, ok
}

func (e *Engine) emitOrderPlaced(o *common.Order) {
	e.Sink.Emit(events.Event{Kind: events.OrderPlaced, Market: o.Market, Trader: o.Trader, Payload: *o, Timestamp: time.Now()})
}

func (e *Engine) emitTrade(t common.Trade) {
	e.Sink.Emit(events.Event{Kind: events.Trade, Market: t.Market, Trader: t.Buyer, Payload: t, Timestamp: time.Now()})
}

func (e *Engine) emitCancelled(o *common.Order) {
	e.Sink.Emit(events.Event{Kind: events.OrderCancelled, Market: o.Market, Trader: o.Trader, Payload: *o, Timestamp: time.Now()})
}

func (e *Engine) emitPositionUpdated(trader string, market common.MarketID) {
	pos, ok := e.Vault.Position(trader, market)
	if !ok {
		e.Sink.Emit(events.Event{Kind: events.PositionUpdated, Market: market, Trader: trader,
			Payload: events.PositionSnapshot{Trader: trader, Market: market}, Timestamp: time.Now()})
		return
	}
	e.Sink.Emit(events.Event{Kind: events.PositionUpdated, Market: market, Trader: trader, Payload: events.PositionSnapshot{
		Trader: trader, Market: market, Size: pos.Size, EntryPrice: pos.EntryPrice, MarginLocked: pos.MarginLocked,
	}, Timestamp: time.Now()})
}

// PlaceLimitOrder reserves margin for a buy (price*size) or a sell
// (size priced at the prevailing mark), then runs the crossing loop; any
// unfilled remainder rests in the book. Returns the new order id and any
// fills produced immediately.
func (e *Engine) PlaceLimitOrder(trader string, marketID common.MarketID, side common.Side, price int64, size uint64) (orderID uint64, fills []common.Trade, err error) {
	if size == 0 {
		return 0, nil, ErrZeroSize
	}
	m, ok := e.Market(marketID)
	if !ok {
		return 0, nil, ErrMarketUnknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer e.recoverInvariant(&err)

	m.nextOrderID++
	id := m.nextOrderID

	reservePrice := price
	if side == common.Sell {
		reservePrice = e.Oracle.Mark(marketID, m.book)
		if reservePrice == 0 {
			reservePrice = price
		}
	}
	reserveAmt := fixedpoint.Notional(reservePrice, size)
	if err := e.Vault.Reserve(trader, id, reserveAmt); err != nil {
		return 0, nil, err
	}

	order := &common.Order{
		ID: id, Trader: trader, Market: marketID, Side: side, Kind: common.Limit,
		Margin: true, Price: price, ReservePrice: reservePrice, OriginalSize: size,
		Status: common.StatusOpen, PlacedAt: time.Now(), ExchTimestamp: time.Now(),
	}
	e.emitOrderPlaced(order)

	refPrice := e.referencePrice(m)
	fills = e.cross(m, order, 0, refPrice)

	if order.Remaining() == 0 {
		order.Status = common.StatusFilled
		e.Vault.ReleaseReservation(trader, id)
	} else {
		if order.FilledSize > 0 {
			order.Status = common.StatusPartial
		}
		m.book.Insert(order)
		newReserve := fixedpoint.Notional(order.ReservePrice, order.Remaining())
		e.Vault.AmendReservation(trader, id, newReserve)
	}
	m.activeTraders[trader] = struct{}{}
	e.emitPositionUpdated(trader, marketID)
	return id, fills, nil
}

// PlaceMarketOrder sweeps the book immediately; any remainder once the
// slippage cap or available liquidity is exhausted is dropped, never
// queued.
func (e *Engine) PlaceMarketOrder(trader string, marketID common.MarketID, side common.Side, size uint64, maxSlippageBps uint32) (fills []common.Trade, err error) {
	if size == 0 {
		return nil, ErrZeroSize
	}
	m, ok := e.Market(marketID)
	if !ok {
		return nil, ErrMarketUnknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer e.recoverInvariant(&err)

	refPrice := e.referencePrice(m)
	reservePrice := refPrice
	if reservePrice == 0 {
		reservePrice = e.Oracle.Mark(marketID, m.book)
	}
	requiredMargin := fixedpoint.RequiredMargin(size, reservePrice)
	if e.Vault.AvailableCollateral(trader) < requiredMargin {
		return nil, vault.ErrInsufficientMargin
	}

	m.nextOrderID++
	order := &common.Order{
		ID: m.nextOrderID, Trader: trader, Market: marketID, Side: side, Kind: common.Market,
		Margin: true, OriginalSize: size, Status: common.StatusOpen, PlacedAt: time.Now(), ExchTimestamp: time.Now(),
	}
	e.emitOrderPlaced(order)

	fills = e.cross(m, order, maxSlippageBps, refPrice)
	m.activeTraders[trader] = struct{}{}
	e.emitPositionUpdated(trader, marketID)
	return fills, nil
}

// LiquidateAtMarket sweeps the book for a liquidation-originated
// synthetic order: unlike PlaceMarketOrder it takes no margin
// reservation (the position is closing, never opening new risk) and
// applies no slippage cap, sweeping to full depletion per spec §4.E.
// Any unfilled remainder (book ran dry) is dropped; the caller sees only
// the fills that did execute.
func (e *Engine) LiquidateAtMarket(trader string, marketID common.MarketID, side common.Side, size uint64) (fills []common.Trade, err error) {
	if size == 0 {
		return nil, nil
	}
	m, ok := e.Market(marketID)
	if !ok {
		return nil, ErrMarketUnknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer e.recoverInvariant(&err)

	m.nextOrderID++
	order := &common.Order{
		ID: m.nextOrderID, Trader: trader, Market: marketID, Side: side, Kind: common.Market,
		Margin: true, OriginalSize: size, Status: common.StatusOpen, PlacedAt: time.Now(), ExchTimestamp: time.Now(),
	}
	e.emitOrderPlaced(order)

	fills = e.cross(m, order, 0, 0)
	m.activeTraders[trader] = struct{}{}
	e.emitPositionUpdated(trader, marketID)
	return fills, nil
}

// Cancel removes a resting order and releases its reservation. Fails
// with ErrNotOwner if the caller doesn't own the order, or ErrNotFound
// if it's unknown or already gone.
func (e *Engine) Cancel(trader string, marketID common.MarketID, orderID uint64) error {
	m, ok := e.Market(marketID)
	if !ok {
		return ErrMarketUnknown
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.book.Get(orderID)
	if !ok {
		return ErrNotFound
	}
	if order.Trader != trader {
		return ErrNotOwner
	}
	if _, err := m.book.Remove(orderID); err != nil {
		return ErrNotFound
	}
	order.Status = common.StatusCancelled
	e.Vault.ReleaseReservation(trader, orderID)
	e.emitCancelled(order)
	return nil
}

// referencePrice is the slippage cap's p0: the book mid if both sides
// are populated, else whichever side the market order would trade
// against.
func (e *Engine) referencePrice(m *Market) int64 {
	bid, hasBid := m.book.BestPrice(common.Buy)
	ask, hasAsk := m.book.BestPrice(common.Sell)
	switch {
	case hasBid && hasAsk:
		return (bid + ask) / 2
	case hasAsk:
		return ask
	case hasBid:
		return bid
	default:
		return 0
	}
}

// cross runs the crossing loop for a taker order (limit or market)
// against the opposite side of the book, at maker (resting-order)
// prices, until the taker is exhausted, the book stops crossing, or (for
// a market taker) the slippage cap is reached.
func (e *Engine) cross(m *Market, taker *common.Order, maxSlippageBps uint32, refPrice int64) []common.Trade {
	var fills []common.Trade
	oppSide := taker.Side.Opposite()

	for taker.Remaining() > 0 {
		level, ok := m.book.BestLevel(oppSide)
		if !ok {
			break
		}
		if taker.Kind == common.Limit {
			if taker.Side == common.Buy && taker.Price < level.Price {
				break
			}
			if taker.Side == common.Sell && taker.Price > level.Price {
				break
			}
		}
		if taker.Kind == common.Market && maxSlippageBps > 0 && refPrice > 0 {
			deviation := level.Price - refPrice
			if deviation < 0 {
				deviation = -deviation
			}
			cap := refPrice * int64(maxSlippageBps) / 10000
			if deviation > cap {
				break
			}
		}

		maker, ok := m.book.Front(level)
		if !ok {
			break
		}

		qty := taker.Remaining()
		if maker.Remaining() < qty {
			qty = maker.Remaining()
		}
		tradePrice := maker.Price

		var buyer, seller string
		var buyOrderID, sellOrderID uint64
		var buyerIsMargin, sellerIsMargin bool
		if taker.Side == common.Buy {
			buyer, buyOrderID, buyerIsMargin = taker.Trader, taker.ID, taker.Margin
			seller, sellOrderID, sellerIsMargin = maker.Trader, maker.ID, maker.Margin
		} else {
			seller, sellOrderID, sellerIsMargin = taker.Trader, taker.ID, taker.Margin
			buyer, buyOrderID, buyerIsMargin = maker.Trader, maker.ID, maker.Margin
		}

		if err := e.Vault.ApplyFill(m.id, buyer, seller, tradePrice, qty); err != nil {
			panic(invariantViolation{err})
		}

		trade := e.Ledger.RecordTrade(common.Trade{
			Market: m.id, Buyer: buyer, Seller: seller, BuyOrderID: buyOrderID, SellOrderID: sellOrderID,
			Price: tradePrice, Size: qty, BuyerIsMargin: buyerIsMargin, SellerIsMargin: sellerIsMargin,
			Timestamp: time.Now(),
		})
		e.Oracle.RecordTrade(m.id, tradePrice)
		e.emitTrade(trade)
		fills = append(fills, trade)

		taker.FilledSize += qty
		maker.FilledSize += qty
		m.activeTraders[taker.Trader] = struct{}{}
		m.activeTraders[maker.Trader] = struct{}{}
		e.emitPositionUpdated(taker.Trader, m.id)
		e.emitPositionUpdated(maker.Trader, m.id)

		if maker.Remaining() == 0 {
			maker.Status = common.StatusFilled
			e.Vault.ReleaseReservation(maker.Trader, maker.ID)
			m.book.PopFront(oppSide, level)
		} else {
			maker.Status = common.StatusPartial
			newReserve := fixedpoint.Notional(maker.ReservePrice, maker.Remaining())
			e.Vault.AmendReservation(maker.Trader, maker.ID, newReserve)
		}
	}
	return fills
}

// recoverInvariant converts a panic(invariantViolation{...}) raised
// inside the crossing loop into a returned error, matching spec §7:
// INVARIANT_VIOLATION aborts the transaction but is surfaced as a typed
// result to the caller rather than crashing the process.
func (e *Engine) recoverInvariant(err *error) {
	if r := recover(); r != nil {
		if iv, ok := r.(invariantViolation); ok {
			*err = errors.Join(ErrInvariantViolation, iv.err)
			return
		}
		panic(r)
	}
}
