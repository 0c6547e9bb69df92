// Package book is the order store (spec component B): per-market FIFO
// price levels plus a best-bid/best-ask index. It owns order and level
// structures exclusively — nothing outside this package mutates them
// directly, matching the ownership rule of the spec's data model. The
// matching engine (internal/engine) drives it through the operations
// below; book itself never matches anything.
package book

import (
	"errors"

	"github.com/tidwall/btree"

	"crux/internal/common"
)

var (
	// ErrNotFound is returned by Remove/Get when an order id is unknown
	// or was already removed.
	ErrNotFound = errors.New("order not found")
)

// PriceLevel is a single price's FIFO queue of resting order ids,
// strictly ordered by arrival.
type PriceLevel struct {
	Price  int64
	Orders []uint64
}

type location struct {
	side  common.Side
	price int64
}

// Book is the order store for a single market. Callers are expected to
// serialize access per market (spec §5) — Book itself holds no lock.
type Book struct {
	bids *btree.BTreeG[*PriceLevel]
	asks *btree.BTreeG[*PriceLevel]

	orders map[uint64]*common.Order
	loc    map[uint64]location
	byUser map[string]map[uint64]struct{}
}

// New creates an empty order store.
func New() *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price > b.Price // sorted greatest-first: best bid is Min()
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price < b.Price // sorted least-first: best ask is Min()
	})
	return &Book{
		bids:   bids,
		asks:   asks,
		orders: make(map[uint64]*common.Order),
		loc:    make(map[uint64]location),
		byUser: make(map[string]map[uint64]struct{}),
	}
}

func (b *Book) levels(side common.Side) *btree.BTreeG[*PriceLevel] {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// Insert attaches a well-formed resting order to its side's FIFO at its
// price level, creating the level if needed. Insertion of a LIMIT order
// always succeeds.
func (b *Book) Insert(o *common.Order) {
	levels := b.levels(o.Side)
	level, ok := levels.Get(&PriceLevel{Price: o.Price})
	if ok {
		level.Orders = append(level.Orders, o.ID)
	} else {
		levels.Set(&PriceLevel{Price: o.Price, Orders: []uint64{o.ID}})
	}

	b.orders[o.ID] = o
	b.loc[o.ID] = location{side: o.Side, price: o.Price}

	users, ok := b.byUser[o.Trader]
	if !ok {
		users = make(map[uint64]struct{})
		b.byUser[o.Trader] = users
	}
	users[o.ID] = struct{}{}
}

// Remove drops an order from its queue and, if the level empties, from
// the level index too. Fails with ErrNotFound if the id is unknown or
// was already removed.
func (b *Book) Remove(id uint64) (*common.Order, error) {
	loc, ok := b.loc[id]
	if !ok {
		return nil, ErrNotFound
	}
	levels := b.levels(loc.side)
	level, ok := levels.Get(&PriceLevel{Price: loc.price})
	if !ok {
		return nil, ErrNotFound
	}
	idx := -1
	for i, oid := range level.Orders {
		if oid == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrNotFound
	}
	level.Orders = append(level.Orders[:idx], level.Orders[idx+1:]...)
	if len(level.Orders) == 0 {
		levels.Delete(level)
	}

	order := b.orders[id]
	delete(b.orders, id)
	delete(b.loc, id)
	if users, ok := b.byUser[order.Trader]; ok {
		delete(users, id)
		if len(users) == 0 {
			delete(b.byUser, order.Trader)
		}
	}
	return order, nil
}

// Get returns a snapshot of an order's current book state.
func (b *Book) Get(id uint64) (*common.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// UserOrders returns the set of a trader's open order ids.
func (b *Book) UserOrders(trader string) []uint64 {
	users := b.byUser[trader]
	ids := make([]uint64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	return ids
}

// BestLevel returns the best (price, time)-priority level on a side.
func (b *Book) BestLevel(side common.Side) (*PriceLevel, bool) {
	return b.levels(side).Min()
}

// BestPrice returns the best bid or ask price, if the side is populated.
func (b *Book) BestPrice(side common.Side) (int64, bool) {
	level, ok := b.BestLevel(side)
	if !ok {
		return 0, false
	}
	return level.Price, true
}

// Front returns the head order of a level without removing it.
func (b *Book) Front(level *PriceLevel) (*common.Order, bool) {
	if len(level.Orders) == 0 {
		return nil, false
	}
	return b.Get(level.Orders[0])
}

// PopFront removes the head order of a level entirely — use this only
// once that order is fully filled. The level is dropped from its index
// if this empties it, preserving the "no empty levels" invariant.
func (b *Book) PopFront(side common.Side, level *PriceLevel) {
	if len(level.Orders) == 0 {
		return
	}
	id := level.Orders[0]
	level.Orders = level.Orders[1:]
	order := b.orders[id]
	delete(b.orders, id)
	delete(b.loc, id)
	if order != nil {
		if users, ok := b.byUser[order.Trader]; ok {
			delete(users, id)
			if len(users) == 0 {
				delete(b.byUser, order.Trader)
			}
		}
	}
	if len(level.Orders) == 0 {
		b.levels(side).Delete(level)
	}
}

// Depth returns up to `depth` levels per side, best-first, as
// (price, aggregate remaining size) pairs.
func (b *Book) Depth(depth int) (bids, asks []DepthLevel) {
	collect := func(levels *btree.BTreeG[*PriceLevel]) []DepthLevel {
		out := make([]DepthLevel, 0, depth)
		levels.Scan(func(level *PriceLevel) bool {
			if len(out) >= depth {
				return false
			}
			var total uint64
			for _, id := range level.Orders {
				if o, ok := b.orders[id]; ok {
					total += o.Remaining()
				}
			}
			out = append(out, DepthLevel{Price: level.Price, Size: total})
			return true
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}

// DepthLevel is one aggregated price level for depth queries.
type DepthLevel struct {
	Price int64
	Size  uint64
}
