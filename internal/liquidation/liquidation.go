// Package liquidation is the liquidation pipeline (spec component E):
// it scans a market's active traders for under-margined positions,
// closes them by synthesising a market order through the matching
// engine, and runs the three-tier loss waterfall (position margin →
// available collateral → socialized loss across profitable
// counterparties). It never mutates the book or the vault's collateral
// rows directly — only through internal/engine and internal/vault's own
// operations, same ownership rule as every other component (spec §3).
package liquidation

import (
	"sort"
	"sync"
	"time"

	"crux/internal/common"
	"crux/internal/engine"
	"crux/internal/events"
	"crux/internal/fixedpoint"
	"crux/internal/ledger"
	"crux/internal/oracle"
	"crux/internal/vault"
)

// PenaltyBps is the fixed liquidation penalty: 5% of the position's
// locked margin, deducted from the trader's covered loss and credited
// to the liquidator (spec §4.E).
const PenaltyBps = 500

// SystemLiquidator is credited when a scan is triggered automatically
// rather than by an explicit caller.
const SystemLiquidator = "system"

// Engine runs liquidation scans over a shared matching engine, vault,
// ledger and oracle.
type Engine struct {
	mu      sync.Mutex
	running map[common.MarketID]bool

	Core   *engine.Engine
	Vault  *vault.Vault
	Ledger *ledger.Ledger
	Oracle *oracle.Oracle
	Sink   events.Sink
}

// New creates a liquidation engine. Sink may be nil.
func New(core *engine.Engine, v *vault.Vault, l *ledger.Ledger, o *oracle.Oracle, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.NullSink{}
	}
	return &Engine{
		running: make(map[common.MarketID]bool),
		Core:    core, Vault: v, Ledger: l, Oracle: o, Sink: sink,
	}
}

// Scan evaluates every active trader in a market for liquidation
// eligibility and closes any that qualify, iterating via an explicit
// work queue rather than recursion (spec §9). It is the single entry
// point for both the automatic post-fill trigger and the administrative
// triggerLiquidationScan call; a re-entrant call while a scan for the
// same market is already in flight is a no-op, letting the outer scan's
// own loop keep handling newly-eligible positions (spec §5 recursion
// guard).
func (le *Engine) Scan(market common.MarketID, liquidator string) []common.LiquidationRecord {
	if !le.enter(market) {
		return nil
	}
	defer le.exit(market)

	m, ok := le.Core.Market(market)
	if !ok {
		return nil
	}

	var records []common.LiquidationRecord
	queue := m.ActiveTraders()
	seen := make(map[string]bool, len(queue))
	for len(queue) > 0 {
		trader := queue[0]
		queue = queue[1:]
		if seen[trader] {
			continue
		}
		seen[trader] = true

		mark := le.Oracle.Mark(market, m.Book())
		if !le.Vault.IsLiquidatable(trader, market, mark) {
			continue
		}
		if rec, ok := le.liquidate(market, trader, liquidator); ok {
			records = append(records, rec)
		}
		// The synthetic close may have touched other traders (the
		// makers it matched against); pick up anyone newly eligible
		// before the scan ends rather than waiting for the next
		// trigger.
		for _, t := range m.ActiveTraders() {
			if !seen[t] {
				queue = append(queue, t)
			}
		}
	}
	return records
}

func (le *Engine) enter(market common.MarketID) bool {
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.running[market] {
		return false
	}
	le.running[market] = true
	return true
}

func (le *Engine) exit(market common.MarketID) {
	le.mu.Lock()
	defer le.mu.Unlock()
	delete(le.running, market)
}

// SocializedContribution is one donor's debited share of a residual
// liquidation loss.
type SocializedContribution struct {
	Trader string
	Amount int64
}

// liquidate closes one eligible position and runs the loss waterfall.
// Returns false if the synthetic order found no liquidity at all, in
// which case a failed-socialization event is recorded and the position
// is left open for retry on the next scan.
func (le *Engine) liquidate(market common.MarketID, trader, liquidator string) (common.LiquidationRecord, bool) {
	pos, ok := le.Vault.Position(trader, market)
	if !ok || pos.Size == 0 {
		return common.LiquidationRecord{}, false
	}

	side := common.Sell
	if pos.Size < 0 {
		side = common.Buy
	}
	absSize := fixedpoint.AbsInt64(pos.Size)

	before := le.Vault.MarginSummary(trader)

	fills, err := le.Core.LiquidateAtMarket(trader, market, side, absSize)
	if err != nil || len(fills) == 0 {
		le.Ledger.RecordFailedSocialization(trader, market, time.Now())
		return common.LiquidationRecord{}, false
	}

	execPrice := vwapOfFills(fills)
	after := le.Vault.MarginSummary(trader)

	// totalLoss is what the fill itself already realized against the
	// trader's account. coveredCapacity is how much of that the
	// trader's own resources (tier 1: this position's locked margin,
	// tier 2: whatever else was available) can absorb.
	totalLoss := before.RealizedPnL - after.RealizedPnL
	if totalLoss < 0 {
		totalLoss = 0
	}
	coveredCapacity := pos.MarginLocked
	if before.AvailableCollateral > 0 {
		coveredCapacity += before.AvailableCollateral
	}
	coveredLossOnly := totalLoss
	if coveredLossOnly > coveredCapacity {
		coveredLossOnly = coveredCapacity
	}

	// The penalty is an additional charge on top of the loss itself,
	// capped at what the trader's capacity could cover of the loss
	// (spec §4.E), and is folded into the same tier-1/2/3 waterfall:
	// whatever it pushes past coveredCapacity becomes residual too.
	penalty := pos.MarginLocked * PenaltyBps / 10000
	if penalty > coveredLossOnly {
		penalty = coveredLossOnly
	}
	totalDebit := totalLoss + penalty
	coveredByTrader := totalDebit
	if coveredByTrader > coveredCapacity {
		coveredByTrader = coveredCapacity
	}
	residual := totalDebit - coveredByTrader
	if residual < 0 {
		residual = 0
	}

	if penalty > 0 {
		le.Vault.DebitRealizedPnL(trader, penalty)
		le.Vault.CreditRealizedPnL(liquidator, penalty)
	}

	var donors []SocializedContribution
	if residual > 0 {
		donors = le.socialize(market, trader, residual)
		le.Vault.CreditRealizedPnL(trader, residual)
		var covered int64
		for _, d := range donors {
			covered += d.Amount
		}
		if shortfall := residual - covered; shortfall > 0 {
			le.Ledger.RecordShortfall(shortfall)
		}
	}

	rec := common.LiquidationRecord{
		Trader: trader, Market: market, Size: absSize, EntryPrice: pos.EntryPrice,
		LiquidationPrice: execPrice, MarginLocked: pos.MarginLocked, MarginLost: coveredLossOnly + penalty,
		Timestamp: time.Now(), Liquidator: liquidator,
	}
	le.Ledger.RecordLiquidation(rec)
	le.Sink.Emit(events.Event{Kind: events.LiquidationExecuted, Market: market, Trader: trader, Payload: rec, Timestamp: rec.Timestamp})
	for _, d := range donors {
		payload := events.SocializedLoss{LiquidatedTrader: trader, Donor: d.Trader, Market: market, Amount: d.Amount}
		le.Sink.Emit(events.Event{Kind: events.SocializedLossApplied, Market: market, Trader: trader, Payload: payload, Timestamp: rec.Timestamp})
		le.Sink.Emit(events.Event{Kind: events.UserLossSocialized, Market: market, Trader: d.Trader, Payload: payload, Timestamp: rec.Timestamp})
	}
	return rec, true
}

// socialize ranks a market's active traders (excluding the one just
// liquidated) by positive unrealizedPnL descending, ties broken by
// earlier position entry (spec §9 open-question resolution — see
// DESIGN.md), and debits each in turn, capped at its own unrealizedPnL,
// until the residual is covered or donors run out.
func (le *Engine) socialize(market common.MarketID, liquidated string, residual int64) []SocializedContribution {
	m, ok := le.Core.Market(market)
	if !ok {
		return nil
	}
	mark := le.Oracle.Mark(market, m.Book())

	type candidate struct {
		trader string
		pnl    int64
		opened time.Time
	}
	var candidates []candidate
	for _, trader := range m.ActiveTraders() {
		if trader == liquidated {
			continue
		}
		pos, ok := le.Vault.Position(trader, market)
		if !ok || pos.Size == 0 {
			continue
		}
		pnl := fixedpoint.PnL(mark, pos.EntryPrice, pos.Size)
		if pnl <= 0 {
			continue
		}
		candidates = append(candidates, candidate{trader: trader, pnl: pnl, opened: pos.OpenedAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].pnl != candidates[j].pnl {
			return candidates[i].pnl > candidates[j].pnl
		}
		return candidates[i].opened.Before(candidates[j].opened)
	})

	var contributions []SocializedContribution
	remaining := residual
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		take := c.pnl
		if take > remaining {
			take = remaining
		}
		le.Vault.DebitRealizedPnL(c.trader, take)
		contributions = append(contributions, SocializedContribution{Trader: c.trader, Amount: take})
		remaining -= take
	}
	return contributions
}

func vwapOfFills(fills []common.Trade) int64 {
	if len(fills) == 0 {
		return 0
	}
	acc := fills[0].Price
	accSize := fills[0].Size
	for _, f := range fills[1:] {
		acc = fixedpoint.VWAP(accSize, acc, f.Size, f.Price)
		accSize += f.Size
	}
	return acc
}
