// Package events defines the commit-ordered event stream the core emits
// to the edge (spec §6): OrderPlaced, Trade, OrderCancelled,
// PositionUpdated, LiquidationExecuted, SocializedLossApplied and
// UserLossSocialized. It is intentionally tiny and import-light so that
// engine, liquidation and vault can all emit through it without any of
// them depending on each other.
package events

import (
	"time"

	"crux/internal/common"
)

// Kind names one of the seven event types the core can emit.
type Kind string

const (
	OrderPlaced           Kind = "OrderPlaced"
	Trade                 Kind = "Trade"
	OrderCancelled        Kind = "OrderCancelled"
	PositionUpdated       Kind = "PositionUpdated"
	LiquidationExecuted   Kind = "LiquidationExecuted"
	SocializedLossApplied Kind = "SocializedLossApplied"
	UserLossSocialized    Kind = "UserLossSocialized"
)

// Event is one entry in the commit-ordered stream.
type Event struct {
	Kind      Kind
	Market    common.MarketID
	Trader    string
	Payload   any
	Timestamp time.Time
}

// PositionSnapshot is the payload of a PositionUpdated event.
type PositionSnapshot struct {
	Trader       string
	Market       common.MarketID
	Size         int64
	EntryPrice   int64
	MarginLocked int64
}

// SocializedLoss is the payload of a SocializedLossApplied /
// UserLossSocialized pair: donor gave `Amount` of realized P&L toward
// covering the liquidated trader's residual loss.
type SocializedLoss struct {
	LiquidatedTrader string
	Donor            string
	Market           common.MarketID
	Amount           int64
}

// Sink receives emitted events in commit order. Implementations must not
// block the caller for long — the core emits synchronously on the same
// goroutine that committed the underlying state change.
type Sink interface {
	Emit(Event)
}

// NullSink discards every event; useful as the default when nobody is
// listening.
type NullSink struct{}

func (NullSink) Emit(Event) {}

// ChannelSink fans events out over a buffered channel, matching the
// teacher's pattern of handing off to a single reader rather than
// calling out to arbitrary listeners inline. Emit drops events once the
// buffer is full rather than blocking the committing transaction.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (c *ChannelSink) Emit(e Event) {
	select {
	case c.ch <- e:
	default:
	}
}

// Events returns the read side of the channel for a consumer to range
// over.
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}
