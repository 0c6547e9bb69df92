package book

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crux/internal/common"
)

func placeTestOrders(b *Book, nextID *uint64, price int64, side common.Side, sizes ...uint64) {
	for _, size := range sizes {
		*nextID++
		b.Insert(&common.Order{
			ID:           *nextID,
			Trader:       "t",
			Side:         side,
			Kind:         common.Limit,
			Price:        price,
			OriginalSize: size,
			Status:       common.StatusOpen,
		})
	}
}

func TestInsert_BestLevels(t *testing.T) {
	b := New()
	var id uint64
	placeTestOrders(b, &id, 99, common.Buy, 100, 90, 80)
	placeTestOrders(b, &id, 98, common.Buy, 50)
	placeTestOrders(b, &id, 100, common.Sell, 100, 90)
	placeTestOrders(b, &id, 101, common.Sell, 20)

	bestBid, ok := b.BestPrice(common.Buy)
	assert.True(t, ok)
	assert.EqualValues(t, 99, bestBid)

	bestAsk, ok := b.BestPrice(common.Sell)
	assert.True(t, ok)
	assert.EqualValues(t, 100, bestAsk)

	level, ok := b.BestLevel(common.Buy)
	assert.True(t, ok)
	assert.Len(t, level.Orders, 3)
}

func TestRemove_EmptiesLevel(t *testing.T) {
	b := New()
	var id uint64
	placeTestOrders(b, &id, 100, common.Sell, 10)

	_, err := b.Remove(1)
	assert.NoError(t, err)

	_, ok := b.BestPrice(common.Sell)
	assert.False(t, ok, "level should be dropped once its last order is removed")

	_, err = b.Remove(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPopFront_PreservesFIFO(t *testing.T) {
	b := New()
	var id uint64
	placeTestOrders(b, &id, 100, common.Sell, 10, 20, 30)

	level, ok := b.BestLevel(common.Sell)
	assert.True(t, ok)

	front, ok := b.Front(level)
	assert.True(t, ok)
	assert.EqualValues(t, 1, front.ID)

	b.PopFront(common.Sell, level)
	front, ok = b.Front(level)
	assert.True(t, ok)
	assert.EqualValues(t, 2, front.ID)

	_, ok = b.Get(1)
	assert.False(t, ok, "popped order should no longer be retrievable")
}

func TestUserOrders(t *testing.T) {
	b := New()
	b.Insert(&common.Order{ID: 1, Trader: "alice", Side: common.Buy, Price: 10, OriginalSize: 5})
	b.Insert(&common.Order{ID: 2, Trader: "alice", Side: common.Sell, Price: 11, OriginalSize: 5})
	b.Insert(&common.Order{ID: 3, Trader: "bob", Side: common.Buy, Price: 10, OriginalSize: 5})

	ids := b.UserOrders("alice")
	assert.ElementsMatch(t, []uint64{1, 2}, ids)

	b.Remove(1)
	ids = b.UserOrders("alice")
	assert.ElementsMatch(t, []uint64{2}, ids)
}

func TestDepth(t *testing.T) {
	b := New()
	var id uint64
	placeTestOrders(b, &id, 99, common.Buy, 100, 90)
	placeTestOrders(b, &id, 98, common.Buy, 50)
	placeTestOrders(b, &id, 100, common.Sell, 100)

	bids, asks := b.Depth(10)
	assert.Len(t, bids, 2)
	assert.EqualValues(t, 99, bids[0].Price)
	assert.EqualValues(t, 190, bids[0].Size)
	assert.Len(t, asks, 1)
}
