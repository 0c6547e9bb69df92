// Package vault is the centralized margin vault (spec component D): it
// holds every trader's collateral balance and per-market position, nets
// fills into those positions, and enforces 100% initial margin. The
// vault exclusively owns collateral and position state — the book and
// engine packages never reach into it directly, only through the
// operations below (spec §3 "Ownership").
package vault

import (
	"errors"
	"sort"
	"sync"
	"time"

	"crux/internal/common"
	"crux/internal/fixedpoint"
)

var (
	// ErrInsufficientMargin is returned when a reservation or withdrawal
	// would drive availableCollateral below zero.
	ErrInsufficientMargin = errors.New("insufficient margin")
	// ErrNotFound is returned for an unknown trader, position or
	// reservation.
	ErrNotFound = errors.New("not found")
	// ErrInvariantViolation marks a computed state that would violate an
	// invariant in §3; callers must treat this as fatal and abort the
	// whole transaction rather than recover from it.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Position is one trader's record for one market. Size is signed:
// positive is long, negative is short.
type Position struct {
	Market       common.MarketID
	Size         int64
	EntryPrice   int64
	MarginLocked int64
	// OpenedAt is used as the ADL tie-break (earlier entries donate
	// first — spec §9 "Open question" resolution, see DESIGN.md).
	OpenedAt time.Time
}

// Account is one trader's collateral row plus their open positions.
type Account struct {
	Trader           string
	TotalDeposited   int64
	RealizedPnL      int64
	MarginReserved   int64
	marginLockedSum  int64
	Positions        map[common.MarketID]*Position
	reservations     map[uint64]int64 // orderID -> reserved amount
}

func newAccount(trader string) *Account {
	return &Account{
		Trader:       trader,
		Positions:    make(map[common.MarketID]*Position),
		reservations: make(map[uint64]int64),
	}
}

// Available returns availableCollateral = totalDeposited + realizedPnL -
// marginLocked(sum over markets) - marginReserved.
func (a *Account) Available() int64 {
	return a.TotalDeposited + a.RealizedPnL - a.marginLockedSum - a.MarginReserved
}

// Summary is the response shape for marginSummary.
type Summary struct {
	TotalCollateral     int64
	MarginUsed          int64
	MarginReserved      int64
	AvailableCollateral int64
	RealizedPnL         int64
	UnrealizedPnL       int64
	PortfolioValue      int64
}

// Vault is the collateral and position store for every trader across
// every market. Per spec §5, a single trader's collateral row is the
// shared resource across markets, so all mutating operations take the
// vault-wide lock; this mirrors the teacher's single-mutex client
// session map rather than inventing per-account striping.
type Vault struct {
	mu       sync.Mutex
	accounts map[string]*Account
	marks    map[common.MarketID]int64
}

// New creates an empty vault.
func New() *Vault {
	return &Vault{
		accounts: make(map[string]*Account),
		marks:    make(map[common.MarketID]int64),
	}
}

func (v *Vault) account(trader string) *Account {
	acct, ok := v.accounts[trader]
	if !ok {
		acct = newAccount(trader)
		v.accounts[trader] = acct
	}
	return acct
}

// Deposit increases a trader's collateral balance.
func (v *Vault) Deposit(trader string, amount int64) error {
	if amount <= 0 {
		return errors.New("deposit amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.account(trader).TotalDeposited += amount
	return nil
}

// Withdraw decreases a trader's collateral balance. Fails with
// ErrInsufficientMargin if availableCollateral would go negative.
func (v *Vault) Withdraw(trader string, amount int64) error {
	if amount <= 0 {
		return errors.New("withdraw amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.account(trader)
	if acct.Available() < amount {
		return ErrInsufficientMargin
	}
	acct.TotalDeposited -= amount
	return nil
}

// Reserve records a new pending-order margin reservation, failing with
// ErrInsufficientMargin if it would drive availableCollateral below
// zero. Reserving for an order id that already has a reservation
// replaces it.
func (v *Vault) Reserve(trader string, orderID uint64, amount int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.account(trader)
	existing := acct.reservations[orderID]
	if acct.Available()+existing < amount {
		return ErrInsufficientMargin
	}
	acct.MarginReserved += amount - existing
	acct.reservations[orderID] = amount
	return nil
}

// AmendReservation resets an order's reservation to newAmount, crediting
// or debiting marginReserved by the delta. This is how the margin-release
// law (spec §4.C) and partial-fill release are implemented: the engine
// calls this after every partial fill with newAmount = the order's
// ReservePrice * remaining.
func (v *Vault) AmendReservation(trader string, orderID uint64, newAmount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.account(trader)
	existing := acct.reservations[orderID]
	acct.MarginReserved += newAmount - existing
	if newAmount == 0 {
		delete(acct.reservations, orderID)
	} else {
		acct.reservations[orderID] = newAmount
	}
}

// ReleaseReservation fully releases an order's reservation (cancel, or
// terminal fill).
func (v *Vault) ReleaseReservation(trader string, orderID uint64) {
	v.AmendReservation(trader, orderID, 0)
}

// ApplyFill is the hot path: it nets a fill into both the buyer's and
// the seller's positions (spec §4.D "Position netting"), updating
// entryPrice, marginLocked and realizedPnL for each.
func (v *Vault) ApplyFill(market common.MarketID, buyer, seller string, price int64, size uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	buyerAcct := v.account(buyer)
	sellerAcct := v.account(seller)

	if err := v.net(buyerAcct, market, price, int64(size)); err != nil {
		return err
	}
	if err := v.net(sellerAcct, market, price, -int64(size)); err != nil {
		return err
	}
	return nil
}

// net applies one side of a fill (signed delta) to a trader's position
// in a market, implementing the four netting cases of spec §4.D.
func (v *Vault) net(acct *Account, market common.MarketID, fillPrice int64, delta int64) error {
	pos, exists := acct.Positions[market]
	if !exists || pos.Size == 0 {
		// Case 1: open.
		newSize := delta
		margin := fixedpoint.RequiredMargin(fixedpoint.AbsInt64(newSize), fillPrice)
		acct.Positions[market] = &Position{
			Market:       market,
			Size:         newSize,
			EntryPrice:   fillPrice,
			MarginLocked: margin,
			OpenedAt:     time.Now(),
		}
		acct.marginLockedSum += margin
		return nil
	}

	sameSign := fixedpoint.SignOf(pos.Size) == fixedpoint.SignOf(delta)
	if sameSign {
		// Case 2: add — VWAP the entry price, grow locked margin.
		newSize := pos.Size + delta
		newEntry := fixedpoint.VWAP(fixedpoint.AbsInt64(pos.Size), pos.EntryPrice, fixedpoint.AbsInt64(delta), fillPrice)
		newMargin := fixedpoint.RequiredMargin(fixedpoint.AbsInt64(newSize), newEntry)
		acct.marginLockedSum += newMargin - pos.MarginLocked
		pos.Size = newSize
		pos.EntryPrice = newEntry
		pos.MarginLocked = newMargin
		return nil
	}

	absDelta := fixedpoint.AbsInt64(delta)
	absSize := fixedpoint.AbsInt64(pos.Size)

	if absDelta <= absSize {
		// Case 3: reduce/close. The closed portion realizes P&L at
		// fillPrice; entryPrice is unchanged; marginLocked shrinks
		// proportionally.
		realized := pnlForClose(pos, fillPrice, absDelta)
		acct.RealizedPnL += realized

		newSize := pos.Size + delta
		if newSize == 0 {
			acct.marginLockedSum -= pos.MarginLocked
			delete(acct.Positions, market)
			return nil
		}
		newMargin := fixedpoint.RequiredMargin(fixedpoint.AbsInt64(newSize), pos.EntryPrice)
		acct.marginLockedSum += newMargin - pos.MarginLocked
		pos.Size = newSize
		pos.MarginLocked = newMargin
		return nil
	}

	// Case 4: flip — close the existing |s| portion, then open a fresh
	// position with the remainder at the fill price.
	realized := pnlForClose(pos, fillPrice, absSize)
	acct.RealizedPnL += realized
	acct.marginLockedSum -= pos.MarginLocked

	newSize := pos.Size + delta
	margin := fixedpoint.RequiredMargin(fixedpoint.AbsInt64(newSize), fillPrice)
	acct.Positions[market] = &Position{
		Market:       market,
		Size:         newSize,
		EntryPrice:   fillPrice,
		MarginLocked: margin,
		OpenedAt:     time.Now(),
	}
	acct.marginLockedSum += margin
	return nil
}

// pnlForClose realizes P&L on closedSize contracts (an unsigned portion
// of pos.Size) at fillPrice, using the position's existing sign to
// orient the P&L formula's signed size argument.
func pnlForClose(pos *Position, fillPrice int64, closedSize uint64) int64 {
	signedClosed := int64(closedSize)
	if pos.Size < 0 {
		signedClosed = -signedClosed
	}
	return fixedpoint.PnL(fillPrice, pos.EntryPrice, signedClosed)
}

// MarkPrice stores the latest mark for a market. It does not itself
// recompute unrealizedPnL — that is derived on demand in MarginSummary.
func (v *Vault) MarkPrice(market common.MarketID, newMark int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[market] = newMark
}

func (v *Vault) mark(market common.MarketID) int64 {
	return v.marks[market]
}

// Position returns a copy of a trader's position in a market, if any.
func (v *Vault) Position(trader string, market common.MarketID) (Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return Position{}, false
	}
	pos, ok := acct.Positions[market]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// MarginSummary computes a trader's full collateral picture, including
// unrealizedPnL derived on demand from every open position's mark price.
func (v *Vault) MarginSummary(trader string) Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return Summary{}
	}
	var unrealized int64
	for market, pos := range acct.Positions {
		unrealized += fixedpoint.PnL(v.mark(market), pos.EntryPrice, pos.Size)
	}
	available := acct.Available()
	return Summary{
		TotalCollateral:     acct.TotalDeposited,
		MarginUsed:          acct.marginLockedSum,
		MarginReserved:      acct.MarginReserved,
		AvailableCollateral: available,
		RealizedPnL:         acct.RealizedPnL,
		UnrealizedPnL:       unrealized,
		PortfolioValue:      acct.TotalDeposited + acct.RealizedPnL + unrealized,
	}
}

// UnrealizedPnL returns just the unrealized P&L of one position at the
// market's current mark.
func (v *Vault) UnrealizedPnL(trader string, market common.MarketID) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return 0
	}
	pos, ok := acct.Positions[market]
	if !ok {
		return 0
	}
	return fixedpoint.PnL(v.mark(market), pos.EntryPrice, pos.Size)
}

// IsLiquidatable reports whether a position is liquidatable at the given
// mark, per the closed-form inequality of spec §4.E. The boundary is a
// strict inequality: a fill landing exactly on the threshold does not
// trigger liquidation.
func (v *Vault) IsLiquidatable(trader string, market common.MarketID, mark int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return false
	}
	pos, ok := acct.Positions[market]
	if !ok || pos.Size == 0 {
		return false
	}
	return isLiquidatable(pos, mark)
}

func isLiquidatable(pos *Position, mark int64) bool {
	absSize := fixedpoint.AbsInt64(pos.Size)
	if absSize == 0 {
		return false
	}
	threshold := fixedpoint.ThresholdPrice(pos.MarginLocked, absSize)
	if pos.Size > 0 {
		return mark < pos.EntryPrice-threshold
	}
	return mark > pos.EntryPrice+threshold
}

// AvailableCollateral returns a trader's current available collateral.
func (v *Vault) AvailableCollateral(trader string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return 0
	}
	return acct.Available()
}

// RequiredMarginForOrder is the margin check at placement (spec §4.D):
// for a buy it is price*size; for a sell it is size priced at the
// prevailing reference price (mark, falling back to the limit price).
func RequiredMarginForOrder(side common.Side, price, markOrLimit int64, size uint64) int64 {
	if side == common.Buy {
		return fixedpoint.RequiredMargin(size, price)
	}
	return fixedpoint.RequiredMargin(size, markOrLimit)
}

// ActivePositions returns copies of a trader's current positions, sorted
// by market for deterministic iteration.
func (v *Vault) ActivePositions(trader string) []Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return nil
	}
	out := make([]Position, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market.String() < out[j].Market.String() })
	return out
}

// WithLock runs fn under the vault lock, handing it an account accessor,
// so that several traders' accounts can be read and mutated atomically.
func (v *Vault) WithLock(fn func(get func(trader string) *Account)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.account)
}

// RemovePosition deletes a position outright and drops its locked margin
// from the account's total, without realizing any P&L.
func (v *Vault) RemovePosition(trader string, market common.MarketID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return
	}
	if pos, ok := acct.Positions[market]; ok {
		acct.marginLockedSum -= pos.MarginLocked
		delete(acct.Positions, market)
	}
}

// DebitRealizedPnL reduces a trader's realized P&L directly — used by
// the liquidation engine's ADL donor step and to charge the liquidation
// penalty to the liquidated trader.
func (v *Vault) DebitRealizedPnL(trader string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.account(trader).RealizedPnL -= amount
}

// CreditRealizedPnL increases a trader's realized P&L directly — used to
// pay the liquidator's penalty.
func (v *Vault) CreditRealizedPnL(trader string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.account(trader).RealizedPnL += amount
}

// PositionMarginLocked reports the margin currently locked against a
// trader's position, or 0 if there is none.
func (v *Vault) PositionMarginLocked(trader string, market common.MarketID) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[trader]
	if !ok {
		return 0
	}
	pos, ok := acct.Positions[market]
	if !ok {
		return 0
	}
	return pos.MarginLocked
}
