// Package common holds the small set of types shared across the book,
// engine, vault, liquidation and ledger packages: sides, order/trade
// records and the opaque market identifier. Keeping these in one leaf
// package avoids import cycles between the packages that otherwise all
// need to talk about the same order.
package common

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes resting limit orders from immediate-or-cancel
// market orders.
type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Limit {
		return "LIMIT"
	}
	return "MARKET"
}

// OrderStatus tracks an order through its lifecycle.
type OrderStatus int

const (
	StatusOpen OrderStatus = iota
	StatusPartial
	StatusFilled
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusPartial:
		return "PARTIAL"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// MarketID is an opaque 32-byte market key.
type MarketID [32]byte

func (m MarketID) String() string {
	return hex.EncodeToString(m[:8])
}

// MarketIDFromString derives a MarketID from a human ticker: the ticker's
// bytes come first, padded on the right with zero bytes (longer tickers
// are truncated to 32 bytes). This is a convenience for tests and the CLI edge; the core
// itself never interprets the bytes.
func MarketIDFromString(s string) MarketID {
	var id MarketID
	copy(id[:], s)
	return id
}

// Order is the book's record of a single resting or partially-filled
// order. Price is meaningless (and left zero) for MARKET orders, which
// never rest in the book.
type Order struct {
	ID            uint64
	Trader        string
	Market        MarketID
	Side          Side
	Kind          OrderType
	Margin        bool
	Price         int64  // quote-ticks, 6 decimals; unused for MARKET orders
	ReservePrice  int64  // the price used to size this order's margin reservation (limit price for buys, mark-at-placement for sells)
	OriginalSize  uint64 // size-ticks, 18 decimals
	FilledSize    uint64
	Status        OrderStatus
	PlacedAt      time.Time
	ExchTimestamp time.Time
}

// Remaining returns the unfilled size of the order.
func (o *Order) Remaining() uint64 {
	return o.OriginalSize - o.FilledSize
}

func (o Order) String() string {
	return fmt.Sprintf("Order{id=%d trader=%s side=%s kind=%s price=%d remaining=%d/%d status=%s}",
		o.ID, o.Trader, o.Side, o.Kind, o.Price, o.OriginalSize-o.FilledSize, o.OriginalSize, o.Status)
}

// Trade is an append-only record of a single match between a buyer and a
// seller.
type Trade struct {
	ID            uint64
	Market        MarketID
	Buyer         string
	Seller        string
	BuyOrderID    uint64
	SellOrderID   uint64
	Price         int64
	Size          uint64
	BuyerFee      int64
	SellerFee     int64
	BuyerIsMargin bool
	SellerIsMargin bool
	Timestamp     time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf("Trade{id=%d market=%s buyer=%s seller=%s price=%d size=%d}",
		t.ID, t.Market, t.Buyer, t.Seller, t.Price, t.Size)
}

// LiquidationRecord is an append-only record of a forced position close.
type LiquidationRecord struct {
	Trader           string
	Market           MarketID
	Size             uint64 // |position size| at the time of liquidation
	EntryPrice       int64
	LiquidationPrice int64
	MarginLocked     int64
	MarginLost       int64
	Timestamp        time.Time
	Liquidator       string
}
