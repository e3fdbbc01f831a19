// Package txn defines the normalized transaction record and the checks
// applied to a transaction log before it enters the pipeline.
package txn

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradechains/internal/instrument"
)

// RowType discriminates the kinds of rows in a transaction log.
type RowType string

const (
	Trade    RowType = "Trade"
	Expire   RowType = "Expire"
	Open     RowType = "Open"
	Mark     RowType = "Mark"
	Dividend RowType = "Dividend"
)

// Instruction is the trade direction.
type Instruction string

const (
	Buy  Instruction = "BUY"
	Sell Instruction = "SELL"
)

// Effect is the declared position effect. Empty means unknown; the matcher
// fills it in.
type Effect string

const (
	Opening Effect = "OPENING"
	Closing Effect = "CLOSING"
)

// Record is one normalized transaction row. Importers produce these; the
// matcher fills in MatchID (and may synthesize rows), the clustering pass
// fills in ChainID.
type Record struct {
	Account       string
	TransactionID string
	OrderID       string
	Time          time.Time
	RowType       RowType
	Symbol        string
	Instruction   Instruction
	Effect        Effect
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Cost          decimal.Decimal
	Commissions   decimal.Decimal
	Fees          decimal.Decimal
	Description   string

	MatchID string
	ChainID string
}

// SignedQuantity returns the quantity signed by the instruction.
func (r Record) SignedQuantity() decimal.Decimal {
	if r.Instruction == Sell {
		return r.Quantity.Neg()
	}
	return r.Quantity
}

// Underlying returns the underlying parsed from the symbol.
func (r Record) Underlying() string {
	return instrument.ParseUnderlying(r.Symbol)
}

// ValidationError reports a transaction log that does not conform to the
// schema. Check the importer.
type ValidationError struct {
	TransactionID string
	Reason        string
}

func (e *ValidationError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("invalid transaction log: %s", e.Reason)
	}
	return fmt.Sprintf("invalid transaction %s: %s", e.TransactionID, e.Reason)
}

func invalid(id, format string, args ...any) error {
	return &ValidationError{TransactionID: id, Reason: fmt.Sprintf(format, args...)}
}

// ValidateRecord checks a single row for schema conformance.
func ValidateRecord(r Record) error {
	if r.Account == "" {
		return invalid(r.TransactionID, "missing account")
	}
	if r.TransactionID == "" {
		return invalid("", "missing transaction id")
	}
	if r.Time.IsZero() {
		return invalid(r.TransactionID, "missing datetime")
	}
	switch r.RowType {
	case Trade, Expire, Open, Mark, Dividend:
	default:
		return invalid(r.TransactionID, "unknown row type %q", r.RowType)
	}
	switch r.Instruction {
	case Buy, Sell:
	case "":
		if r.RowType != Dividend && r.RowType != Expire {
			return invalid(r.TransactionID, "missing instruction")
		}
	default:
		return invalid(r.TransactionID, "unknown instruction %q", r.Instruction)
	}
	switch r.Effect {
	case Opening, Closing, "":
	default:
		return invalid(r.TransactionID, "unknown effect %q", r.Effect)
	}
	if r.Symbol == "" {
		return invalid(r.TransactionID, "missing symbol")
	}
	if _, err := instrument.Parse(r.Symbol); err != nil {
		return invalid(r.TransactionID, "bad symbol: %v", err)
	}
	if r.Quantity.IsNegative() {
		return invalid(r.TransactionID, "negative quantity %s", r.Quantity)
	}
	return nil
}

// Validate checks the whole log: per-row conformance plus transaction id
// uniqueness. Any violation is fatal for the run.
func Validate(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if err := ValidateRecord(r); err != nil {
			return err
		}
		if _, dup := seen[r.TransactionID]; dup {
			return invalid(r.TransactionID, "duplicate transaction id")
		}
		seen[r.TransactionID] = struct{}{}
	}
	return nil
}

// SortByTime orders records chronologically, transaction id as tiebreaker.
// The sort is stable with respect to the input for equal keys.
func SortByTime(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Time.Equal(records[j].Time) {
			return records[i].Time.Before(records[j].Time)
		}
		return records[i].TransactionID < records[j].TransactionID
	})
}

// ByID builds a transaction id lookup.
func ByID(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.TransactionID] = r
	}
	return m
}

// GroupByChain partitions records by their chain id, preserving order.
func GroupByChain(records []Record) map[string][]Record {
	m := make(map[string][]Record)
	for _, r := range records {
		m[r.ChainID] = append(m[r.ChainID], r)
	}
	return m
}
