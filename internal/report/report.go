// Package report aggregates chained transactions into per-chain summary
// rows and renders them as CSV and HTML.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradechains/internal/chaindb"
	"tradechains/internal/inventory"
	"tradechains/internal/strategy"
	"tradechains/internal/txn"
)

// Defaults for chains where the operator has not set explicit odds.
const (
	DefaultPop        = 0.80
	DefaultTargetFrac = 0.50
)

// minAdjustmentGap is the minimum quiet period between fills for them to
// count as distinct adjustments.
const minAdjustmentGap = 10 * time.Minute

// ChainRow is one aggregated chain.
type ChainRow struct {
	ChainID     string
	Account     string
	Underlyings string
	Status      chaindb.Status
	Group       string
	Strategy    string

	MinDate time.Time
	MaxDate time.Time
	Days    int

	Init     decimal.Decimal
	InitLegs int
	Adjust   int

	PnlChain    decimal.Decimal
	NetLiq      decimal.Decimal
	PnlCash     decimal.Decimal
	Commissions decimal.Decimal
	Fees        decimal.Decimal
	FifoCost    decimal.Decimal

	Pop     decimal.Decimal
	Target  decimal.Decimal
	PnlWin  decimal.Decimal
	PnlLoss decimal.Decimal
	PnlFrac decimal.Decimal
	NetWin  decimal.Decimal
	NetLoss decimal.Decimal
}

// Options tunes the aggregation.
type Options struct {
	InitialOrderThreshold time.Duration
}

// BuildChains aggregates chained transactions into one row per chain,
// sorted by their last activity date then chain id.
func BuildChains(records []txn.Record, db *chaindb.DB, opts Options) []ChainRow {
	groups := txn.GroupByChain(records)
	chainMap := db.ByID()

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]ChainRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, buildChain(id, groups[id], chainMap[id], opts))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].MaxDate.Equal(rows[j].MaxDate) {
			return rows[i].MaxDate.Before(rows[j].MaxDate)
		}
		return rows[i].ChainID < rows[j].ChainID
	})
	return rows
}

func buildChain(chainID string, records []txn.Record, chain *chaindb.Chain, opts Options) ChainRow {
	row := ChainRow{ChainID: chainID}

	sorted := make([]txn.Record, len(records))
	copy(sorted, records)
	txn.SortByTime(sorted)

	underlyings := make(map[string]struct{})
	for _, rec := range sorted {
		underlyings[rec.Underlying()] = struct{}{}
		row.PnlChain = row.PnlChain.Add(rec.Cost)
		row.Commissions = row.Commissions.Add(rec.Commissions)
		row.Fees = row.Fees.Add(rec.Fees)
		switch rec.RowType {
		case txn.Mark:
			row.NetLiq = row.NetLiq.Add(rec.Cost)
		case txn.Dividend:
			row.PnlCash = row.PnlCash.Add(rec.Cost)
		}
	}
	row.PnlChain = row.PnlChain.Round(2)
	row.NetLiq = row.NetLiq.Round(2)
	row.PnlCash = row.PnlCash.Round(2)

	names := make([]string, 0, len(underlyings))
	for u := range underlyings {
		names = append(names, u)
	}
	sort.Strings(names)
	row.Underlyings = strings.Join(names, ",")

	row.Account = sorted[0].Account
	row.MinDate = dateOf(sorted[0].Time)
	row.MaxDate = dateOf(sorted[len(sorted)-1].Time)
	row.Days = int(row.MaxDate.Sub(row.MinDate).Hours()/24) + 1

	init := strategy.InitialTransactions(sorted, opts.InitialOrderThreshold)
	row.InitLegs = len(init)
	for _, rec := range init {
		row.Init = row.Init.Add(rec.Cost)
	}
	row.Adjust = countAdjustments(sorted, init)
	row.FifoCost = fifoCost(sorted)

	row.Status = "NoStatus"
	pop, target := DefaultPop, DefaultTargetFrac
	if chain != nil {
		if chain.Status != "" {
			row.Status = chain.Status
		}
		row.Group = chain.Group
		row.Strategy = chain.Strategy
		if chain.Pop > 0 && chain.Pop < 1 {
			pop = chain.Pop
		}
		if chain.Target > 0 {
			target = chain.Target
		}
	}
	if row.Group == "" {
		row.Group = "NoGroup"
	}

	// Win/loss targets from the Kelly-style odds on the initial credit.
	row.Pop = decimal.NewFromFloat(pop).Round(2)
	row.Target = decimal.NewFromFloat(target).Round(2)
	row.PnlWin = row.Init.Abs().Mul(decimal.NewFromFloat(target)).Round(2)
	row.PnlLoss = row.PnlWin.Mul(decimal.NewFromFloat(pop / (1 - pop))).Neg().Round(2)
	row.PnlFrac = pnlFrac(row.PnlChain, row.PnlWin, row.PnlLoss)
	row.NetWin = row.NetLiq.Add(row.PnlWin.Sub(row.PnlChain))
	row.NetLoss = row.NetLiq.Add(row.PnlLoss.Sub(row.PnlChain))

	return row
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func pnlFrac(pnl, win, loss decimal.Decimal) decimal.Decimal {
	denom := win
	if pnl.Mul(win).Sign() <= 0 {
		denom = loss.Neg()
	}
	if denom.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(denom).Round(2)
}

// countAdjustments counts fills outside the initial position, collapsing
// bursts closer than the gap into one, and not counting the final close.
func countAdjustments(sorted []txn.Record, init []txn.Record) int {
	exclude := make(map[string]struct{}, len(init))
	for _, rec := range init {
		exclude[rec.TransactionID] = struct{}{}
	}
	var lastTime time.Time
	count := 0
	for _, rec := range sorted {
		if _, ok := exclude[rec.TransactionID]; ok {
			continue
		}
		if rec.Time.Sub(lastTime) > minAdjustmentGap {
			count++
		}
		lastTime = rec.Time
	}
	return count - 1
}

// fifoCost reprices the open position of an active chain by FIFO matching
// its fills. Chains without a Mark row are closed and have no position to
// price.
func fifoCost(records []txn.Record) decimal.Decimal {
	active := false
	for _, rec := range records {
		if rec.RowType == txn.Mark {
			active = true
			break
		}
	}
	if !active {
		return decimal.Zero
	}

	invs := make(map[string]*inventory.Inventory)
	var symbols []string
	for _, rec := range records {
		if rec.RowType == txn.Mark || rec.RowType == txn.Dividend {
			continue
		}
		if rec.Quantity.IsZero() {
			continue
		}
		inv := invs[rec.Symbol]
		if inv == nil {
			inv = inventory.New(false)
			invs[rec.Symbol] = inv
			symbols = append(symbols, rec.Symbol)
		}
		// Selling banks a credit, so the position cost is the negated
		// signed flow.
		quantity := rec.Quantity
		if rec.Instruction != txn.Sell {
			quantity = quantity.Neg()
		}
		unitCost := rec.Cost.Div(rec.Quantity).Abs()
		inv.Match(quantity, unitCost, rec.TransactionID)
	}

	total := decimal.Zero
	for _, symbol := range symbols {
		total = total.Add(invs[symbol].CostBasis())
	}
	return total.Round(2)
}
