// Package inventory implements per-instrument FIFO lot matching.
//
// An Inventory tracks the open lots of a single (account, symbol) pair and
// assigns a match id that groups mutually offsetting transactions. The match
// id is derived from the transaction that opened the current uninterrupted
// position and is cleared exactly when the position returns to flat. A
// reduction that crosses through zero keeps the same match id on both sides
// of the flat line.
package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradechains/internal/logger"
	"tradechains/internal/txn"
)

var zero = decimal.Zero

// Lot is a quantity acquired at a unit cost. Quantity is signed, Cost is the
// unsigned cost per unit.
type Lot struct {
	Quantity decimal.Decimal
	Cost     decimal.Decimal
}

// MatchError reports an event that is inconsistent with the inventory state,
// such as a declared effect contradicting the position sign. These are not
// recoverable: the input log must be corrected upstream.
type MatchError struct {
	TransactionID string
	Reason        string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match error on %s: %s", e.TransactionID, e.Reason)
}

func matchErrorf(id, format string, args ...any) error {
	return &MatchError{TransactionID: id, Reason: fmt.Sprintf(format, args...)}
}

// MatchID derives a match id from the transaction id that opens a position.
// Transaction ids are unique, so the derived id is too.
func MatchID(transactionID string) string {
	return "&" + transactionID
}

// EmitFunc receives matched and synthesized rows from the record-level entry
// points. A single input row may produce more than one output row.
type EmitFunc func(rec txn.Record)

// Inventory is the FIFO matching state of one instrument.
//
// SplitOnCross selects between the two reduction behaviors when an incoming
// event is larger than the outstanding position: when true, the event is
// split into a CLOSING row for the matched portion and an OPENING row for
// the remainder, sharing one match id; when false the row is passed through
// whole, tagged CLOSING, which slightly over-links but avoids synthesizing
// rows.
type Inventory struct {
	SplitOnCross bool

	lots    []Lot
	matchID string
}

// New returns an empty inventory with the given cross-zero policy.
func New(splitOnCross bool) *Inventory {
	return &Inventory{SplitOnCross: splitOnCross}
}

// Sign returns +1 or -1 for the current position, +1 when flat.
func (v *Inventory) Sign() int {
	if len(v.lots) > 0 && v.lots[0].Quantity.IsNegative() {
		return -1
	}
	return 1
}

// Quantity returns the net signed position.
func (v *Inventory) Quantity() decimal.Decimal {
	q := zero
	for _, lot := range v.lots {
		q = q.Add(lot.Quantity)
	}
	return q
}

// CostBasis returns the total signed cost of the open lots.
func (v *Inventory) CostBasis() decimal.Decimal {
	c := zero
	for _, lot := range v.lots {
		c = c.Add(lot.Quantity.Mul(lot.Cost))
	}
	return c
}

// CurrentMatchID returns the live match id, empty when flat.
func (v *Inventory) CurrentMatchID() string { return v.matchID }

// Lots returns a copy of the open lots in FIFO order.
func (v *Inventory) Lots() []Lot {
	out := make([]Lot, len(v.lots))
	copy(out, v.lots)
	return out
}

func (v *Inventory) matchIDFor(transactionID string) string {
	if v.matchID == "" {
		v.matchID = MatchID(transactionID)
	}
	return v.matchID
}

func (v *Inventory) resetIfFlat() {
	if len(v.lots) == 0 {
		v.matchID = ""
	}
}

// Match applies a signed quantity at an unsigned unit cost against the
// inventory and returns the unsigned matched quantity, the unsigned basis of
// the consumed lots, and the match id. This is the plain variant: an event
// crossing through flat is never split, the remainder simply opens the
// opposite position under the same match id.
func (v *Inventory) Match(quantity, unitCost decimal.Decimal, transactionID string) (matched, basis decimal.Decimal, matchID string) {
	matchID = v.matchIDFor(transactionID)
	matched, basis = zero, zero

	if len(v.lots) == 0 {
		v.lots = append(v.lots, Lot{Quantity: quantity, Cost: unitCost})
	} else {
		sign := decimal.NewFromInt(int64(v.Sign()))
		if sign.Mul(quantity).Sign() >= 0 {
			// Augmentation on the existing position.
			v.lots = append(v.lots, Lot{Quantity: quantity, Cost: unitCost})
		} else {
			// Reduction in FIFO order; matched and remaining are unsigned.
			remaining := sign.Neg().Mul(quantity)
			for len(v.lots) > 0 && remaining.IsPositive() {
				lot := v.lots[0]
				v.lots = v.lots[1:]

				lotMatched := decimal.Min(sign.Mul(lot.Quantity), remaining)
				matched = matched.Add(lotMatched)
				basis = basis.Add(lotMatched.Mul(lot.Cost))
				remaining = remaining.Sub(lotMatched)

				if lotMatched.LessThan(sign.Mul(lot.Quantity)) {
					// Partial lot matched; reinsert the remainder at the front.
					rest := Lot{Quantity: lot.Quantity.Sub(sign.Mul(lotMatched)), Cost: lot.Cost}
					v.lots = append([]Lot{rest}, v.lots...)
					break
				}
			}
			if !remaining.IsZero() {
				// Crossed through flat; the remainder opens the other side.
				v.lots = append(v.lots, Lot{Quantity: sign.Neg().Mul(remaining), Cost: unitCost})
			}
		}
	}

	v.resetIfFlat()
	return matched, basis, matchID
}

// Expire flattens all lots unconditionally and returns the signed matched
// quantity, signed basis, and match id. An empty inventory returns zeros and
// no match id.
func (v *Inventory) Expire(transactionID string) (matched, basis decimal.Decimal, matchID string) {
	if len(v.lots) == 0 {
		return zero, zero, ""
	}
	matched = v.Quantity()
	basis = v.CostBasis()
	v.lots = nil

	matchID = v.matchID
	if matchID == "" {
		matchID = MatchID(transactionID)
	}
	v.matchID = ""
	return matched, basis, matchID
}

// Apply matches a Trade (or Open) record against the inventory, emitting the
// matched row(s). The declared effect, when present, must agree with the
// position: anything else is a MatchError, never silently corrected.
func (v *Inventory) Apply(rec txn.Record, emit EmitFunc) error {
	if !rec.Quantity.IsPositive() {
		return matchErrorf(rec.TransactionID, "non-positive quantity %s", rec.Quantity)
	}
	unitCost := rec.Cost.Div(rec.Quantity)
	squantity := rec.SignedQuantity()

	if len(v.lots) == 0 {
		if rec.Effect != "" && rec.Effect != txn.Opening {
			return matchErrorf(rec.TransactionID, "new position not opening")
		}
		out := rec
		out.Effect = txn.Opening
		out.MatchID = v.matchIDFor(rec.TransactionID)
		emit(out)
		v.lots = append(v.lots, Lot{Quantity: squantity, Cost: unitCost})
		v.resetIfFlat()
		return nil
	}

	sign := decimal.NewFromInt(int64(v.Sign()))
	if sign.Mul(squantity).Sign() >= 0 {
		if rec.Effect != "" && rec.Effect != txn.Opening {
			return matchErrorf(rec.TransactionID, "augmenting position not opening")
		}
		out := rec
		out.Effect = txn.Opening
		out.MatchID = v.matchIDFor(rec.TransactionID)
		emit(out)
		v.lots = append(v.lots, Lot{Quantity: squantity, Cost: unitCost})
		v.resetIfFlat()
		return nil
	}

	if rec.Effect != "" && rec.Effect != txn.Closing {
		return matchErrorf(rec.TransactionID, "reducing position not closing")
	}

	// Reduction in FIFO order; matched and remaining are unsigned.
	matched := zero
	remaining := rec.Quantity
	for len(v.lots) > 0 && remaining.IsPositive() {
		lot := v.lots[0]
		v.lots = v.lots[1:]

		absLot := lot.Quantity.Abs()
		m := decimal.Min(absLot, remaining)
		matched = matched.Add(m)
		remaining = remaining.Sub(m)

		if m.LessThan(absLot) {
			rest := Lot{Quantity: lot.Quantity.Sub(sign.Mul(m)), Cost: lot.Cost}
			v.lots = append([]Lot{rest}, v.lots...)
			break
		}
	}

	matchID := v.matchIDFor(rec.TransactionID)
	switch {
	case remaining.IsZero():
		out := rec
		out.Quantity = matched
		out.Cost = matched.Mul(unitCost)
		out.Effect = txn.Closing
		out.MatchID = matchID
		emit(out)

	case v.SplitOnCross:
		// Cross through flat: one CLOSING row for the matched portion, one
		// OPENING row for the remainder, same match id.
		closing := rec
		closing.TransactionID = rec.TransactionID + ".1"
		closing.Quantity = matched
		closing.Cost = matched.Mul(unitCost)
		closing.Effect = txn.Closing
		closing.MatchID = matchID
		emit(closing)

		opening := rec
		opening.TransactionID = rec.TransactionID + ".2"
		opening.Quantity = remaining
		opening.Cost = remaining.Mul(unitCost)
		opening.Effect = txn.Opening
		opening.MatchID = matchID
		emit(opening)

		v.lots = append(v.lots, Lot{Quantity: sign.Neg().Mul(remaining), Cost: unitCost})

	default:
		// Known simplification: the row really ought to be split here.
		logger.Warnf("partial match across a flat position should split row %s", rec.TransactionID)
		out := rec
		out.Effect = txn.Closing
		out.MatchID = matchID
		emit(out)
		v.lots = append(v.lots, Lot{Quantity: sign.Neg().Mul(remaining), Cost: unitCost})
	}

	v.resetIfFlat()
	return nil
}

// Opening matches a record declared as opening, erroring if it would reduce
// the position. The books must carry the initial positions; no attempt is
// made to auto-correct them.
func (v *Inventory) Opening(rec txn.Record, emit EmitFunc) error {
	if v.Quantity().Mul(rec.SignedQuantity()).Sign() < 0 {
		return matchErrorf(rec.TransactionID, "invalid opening of %s over position %s",
			rec.SignedQuantity(), v.Quantity())
	}
	return v.Apply(rec, emit)
}

// Closing matches a record declared as closing, erroring if it would augment
// the position.
func (v *Inventory) Closing(rec txn.Record, emit EmitFunc) error {
	if v.Quantity().Mul(rec.SignedQuantity()).Sign() >= 0 {
		return matchErrorf(rec.TransactionID, "invalid closing of %s over position %s",
			rec.SignedQuantity(), v.Quantity())
	}
	return v.Apply(rec, emit)
}

// ApplyExpire flattens the position for an expiration row, synthesizing the
// instruction and quantity. The quantity on the input row is ignored.
func (v *Inventory) ApplyExpire(rec txn.Record, emit EmitFunc) error {
	if len(v.lots) == 0 {
		return matchErrorf(rec.TransactionID, "expiration with no lots")
	}
	pquantity := v.Quantity()
	instruction := txn.Sell
	if pquantity.IsNegative() {
		instruction = txn.Buy
	}
	out := rec
	out.RowType = txn.Expire
	out.Instruction = instruction
	out.Effect = txn.Closing
	out.Quantity = pquantity.Abs()
	out.Cost = zero
	out.MatchID = v.matchIDFor(rec.TransactionID)
	emit(out)

	v.lots = nil
	v.matchID = ""
	return nil
}

// Receive tags a dividend row with the live match id so it joins the
// position's episode.
func (v *Inventory) Receive(rec txn.Record, emit EmitFunc) error {
	if rec.RowType != txn.Dividend {
		return matchErrorf(rec.TransactionID, "invalid row type %q for receive", rec.RowType)
	}
	out := rec
	out.MatchID = v.matchIDFor(rec.TransactionID)
	emit(out)
	return nil
}
