// Package match runs state-based processing over a transaction log.
//
// It pairs reductions against positions per instrument, sets the position
// effect where the input leaves it blank, assigns match ids, synthesizes
// expiration rows that some sources omit, and closes every still-open
// position with a Mark row at the supplied mark time. The output log can be
// processed downstream without any further state accumulation.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradechains/internal/instrument"
	"tradechains/internal/inventory"
	"tradechains/internal/txn"
)

// Options controls a processing run.
type Options struct {
	// MarkTime is the timestamp used to close still-open positions. Zero
	// means now, truncated to the second.
	MarkTime time.Time

	// SplitOnCross selects the inventory policy for events crossing a flat
	// position. See inventory.Inventory.
	SplitOnCross bool
}

type instKey struct {
	account string
	symbol  string
}

// Process validates and matches a transaction log. Rows are processed in
// time order; the returned log contains the input rows with effect and
// match id rectified plus any synthesized rows, re-sorted by time.
//
// A MatchError from any instrument aborts the whole run: a malformed event
// must halt rather than silently mis-book P&L.
func Process(records []txn.Record, opts Options) ([]txn.Record, error) {
	if err := txn.Validate(records); err != nil {
		return nil, err
	}

	sorted := make([]txn.Record, len(records))
	copy(sorted, records)
	txn.SortByTime(sorted)

	invs := make(map[instKey]*inventory.Inventory)
	var keys []instKey

	out := make([]txn.Record, 0, len(sorted))
	emit := func(r txn.Record) { out = append(out, r) }

	for _, rec := range sorted {
		key := instKey{account: rec.Account, symbol: rec.Symbol}
		inv, ok := invs[key]
		if !ok {
			inv = inventory.New(opts.SplitOnCross)
			invs[key] = inv
			keys = append(keys, key)
		}

		var err error
		switch rec.RowType {
		case txn.Trade, txn.Open:
			switch rec.Effect {
			case txn.Opening:
				err = inv.Opening(rec, emit)
			case txn.Closing:
				err = inv.Closing(rec, emit)
			default:
				err = inv.Apply(rec, emit)
			}
		case txn.Expire:
			err = inv.ApplyExpire(rec, emit)
		case txn.Dividend:
			err = inv.Receive(rec, emit)
		default:
			err = fmt.Errorf("unexpected row type %q on %s", rec.RowType, rec.TransactionID)
		}
		if err != nil {
			return nil, err
		}
	}

	markTime := opts.MarkTime
	if markTime.IsZero() {
		markTime = time.Now().Truncate(time.Second)
	}

	// Deterministic synthesis order.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].symbol < keys[j].symbol
	})

	if err := addMissingExpirations(invs, keys, markTime, emit); err != nil {
		return nil, err
	}
	addMarkRows(invs, keys, markTime, emit)

	txn.SortByTime(out)
	return out, nil
}

func digest(size int, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:size]
}

// addMissingExpirations closes residual positions in options whose
// expiration already passed. Some sources simply drop these rows.
func addMissingExpirations(invs map[instKey]*inventory.Inventory, keys []instKey, markTime time.Time, emit inventory.EmitFunc) error {
	for _, key := range keys {
		inv := invs[key]
		if inv.Quantity().IsZero() {
			continue
		}
		inst, err := instrument.Parse(key.symbol)
		if err != nil || inst.Expiration.IsZero() || !inst.Expiration.Before(markTime) {
			continue
		}
		rec := txn.Record{
			Account:       key.account,
			TransactionID: digest(12, key.symbol),
			OrderID:       digest(8, key.symbol),
			Time:          inst.Expiration.AddDate(0, 0, 1),
			Symbol:        key.symbol,
			Description:   fmt.Sprintf("Synthetic expiration for %s", key.symbol),
		}
		if err := inv.ApplyExpire(rec, emit); err != nil {
			return err
		}
	}
	return nil
}

// addMarkRows synthesizes one CLOSING Mark row per still-open position,
// dated at the mark time and signed to flatten. The price is left at zero;
// pricing marks is the reporting layer's concern.
func addMarkRows(invs map[instKey]*inventory.Inventory, keys []instKey, markTime time.Time, emit inventory.EmitFunc) {
	for _, key := range keys {
		inv := invs[key]
		pquantity := inv.Quantity()
		if pquantity.IsZero() {
			continue
		}

		// An unclosed position always carries a live match id.
		instruction := txn.Sell
		if pquantity.IsNegative() {
			instruction = txn.Buy
		}
		emit(txn.Record{
			Account:       key.account,
			TransactionID: "mark-" + digest(12, key.account, key.symbol),
			Time:          markTime,
			RowType:       txn.Mark,
			Symbol:        key.symbol,
			Instruction:   instruction,
			Effect:        txn.Closing,
			Quantity:      pquantity.Abs(),
			Price:         decimal.Zero,
			Cost:          decimal.Zero,
			Description:   fmt.Sprintf("Mark for %s", key.symbol),
			MatchID:       inv.CurrentMatchID(),
		})
	}
}
