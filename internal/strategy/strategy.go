// Package strategy infers the strategy of a chain from the shape of its
// initial position. The inference is purely structural: signed quantities per
// leg, normalized by their gcd, with strikes replaced by their rank.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradechains/internal/instrument"
	"tradechains/internal/txn"
)

// Leg is one element of a position signature. Strike is the rank letter of
// the leg's strike within the position ("a" is the lowest), Ratio is the
// gcd-normalized signed quantity, PutCall is "P", "C" or empty for an
// outright.
type Leg struct {
	Strike  string
	Ratio   int
	PutCall string
}

// Signature is the canonical shape of a position, sorted.
type Signature []Leg

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, leg := range s {
		parts[i] = fmt.Sprintf("%s%+d%s", leg.Strike, leg.Ratio, leg.PutCall)
	}
	return strings.Join(parts, " ")
}

// sig canonicalizes a table entry so the literal order of its legs does not
// matter.
func sig(legs ...Leg) string {
	s := Signature(legs)
	sortSignature(s)
	return s.String()
}

func sortSignature(s Signature) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		if a.Ratio != b.Ratio {
			return a.Ratio < b.Ratio
		}
		return a.PutCall < b.PutCall
	})
}

var strategies = map[string]string{
	sig(Leg{"a", +1, ""}): "Long",
	sig(Leg{"a", -1, ""}): "Short",
	sig(Leg{"a", +1, "C"}): "LongCall",
	sig(Leg{"a", -1, "C"}): "ShortCall",
	sig(Leg{"a", -1, "P"}): "ShortPut",
	sig(Leg{"a", +1, "P"}): "LongPut",
	sig(Leg{"a", -1, "P"}, Leg{"b", -1, "C"}): "Strangle",
	sig(Leg{"a", -2, "P"}, Leg{"b", -1, "C"}): "UnevenStrangle",
	sig(Leg{"a", -1, "P"}, Leg{"b", -2, "C"}): "UnevenStrangle",
	sig(Leg{"a", -3, "P"}, Leg{"b", -1, "C"}): "UnevenStrangle",
	sig(Leg{"a", -1, "P"}, Leg{"b", -3, "C"}): "UnevenStrangle",
	sig(Leg{"a", +1, "P"}, Leg{"b", +1, "C"}): "LongStrangle",
	sig(Leg{"a", -1, "C"}, Leg{"a", -1, "P"}): "Straddle",
	sig(Leg{"a", +1, "C"}, Leg{"a", +1, "P"}): "LongStraddle",
	sig(Leg{"a", +1, "P"}, Leg{"b", -1, "P"}): "PutSpread",
	sig(Leg{"a", -1, "C"}, Leg{"b", +1, "C"}): "CallSpread",
	sig(Leg{"a", -1, "P"}, Leg{"b", +1, "P"}): "BearSpread",
	sig(Leg{"a", +1, "C"}, Leg{"b", -1, "C"}): "BullSpread",
	sig(Leg{"a", +1, "P"}, Leg{"b", -1, "P"}, Leg{"c", -1, "C"}, Leg{"d", +1, "C"}): "IronCondor",
	sig(Leg{"a", -1, "P"}, Leg{"b", +1, "P"}, Leg{"c", +1, "C"}, Leg{"d", -1, "C"}): "LongIronCondor",
	sig(Leg{"a", +1, "P"}, Leg{"b", -1, "P"}, Leg{"b", -1, "C"}, Leg{"c", +1, "C"}): "IronFly",
	sig(Leg{"a", -1, "P"}, Leg{"b", -1, "C"}, Leg{"c", +1, "C"}): "JadeLizard",
	sig(Leg{"a", +1, "P"}, Leg{"b", -1, "P"}, Leg{"c", -1, "C"}): "ReverseJadeLizard",
	sig(Leg{"a", -2, "P"}, Leg{"b", +1, "P"}): "PutRatioSpread",
	sig(Leg{"a", +1, "C"}, Leg{"b", -2, "C"}): "CallRatioSpread",
	sig(Leg{"a", +1, "P"}, Leg{"b", -2, "P"}, Leg{"c", +1, "P"}): "Butterfly",
	sig(Leg{"a", +1, "C"}, Leg{"b", -2, "C"}, Leg{"c", +1, "C"}): "Butterfly",
	sig(Leg{"a", -1, "P"}, Leg{"b", +2, "P"}, Leg{"c", -1, "P"}): "LongButterfly",
	sig(Leg{"a", -1, "C"}, Leg{"b", +2, "C"}, Leg{"c", -1, "C"}): "LongButterfly",
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Infer classifies the initial position formed by the given transactions.
// It returns the strategy name, empty when the shape is unrecognized or the
// position spans multiple underlyings or expirations, along with the
// computed signature.
func Infer(initTxns []txn.Record) (string, Signature) {
	quantities := make(map[string]decimal.Decimal)
	for _, t := range initTxns {
		quantities[t.Symbol] = quantities[t.Symbol].Add(t.SignedQuantity())
	}

	var g int64
	for _, q := range quantities {
		g = gcd(g, q.IntPart())
	}
	if g == 0 {
		return "", nil
	}

	instruments := make(map[string]instrument.Instrument, len(quantities))
	strikeSet := make(map[string]struct{})
	var strikes []string
	for symbol := range quantities {
		inst, err := instrument.Parse(symbol)
		if err != nil {
			return "", nil
		}
		instruments[symbol] = inst
		key := inst.Strike.String()
		if _, ok := strikeSet[key]; !ok {
			strikeSet[key] = struct{}{}
			strikes = append(strikes, key)
		}
	}
	sort.Slice(strikes, func(i, j int) bool {
		a, _ := decimal.NewFromString(strikes[i])
		b, _ := decimal.NewFromString(strikes[j])
		return a.LessThan(b)
	})
	if len(strikes) > 26 {
		return "", nil
	}
	letters := make(map[string]string, len(strikes))
	for i, s := range strikes {
		letters[s] = string(rune('a' + i))
	}

	var signature Signature
	underlyings := make(map[string]struct{})
	expirations := make(map[string]struct{})
	for symbol, quantity := range quantities {
		inst := instruments[symbol]
		underlyings[inst.Underlying] = struct{}{}
		expirations[inst.ExpirationKey()] = struct{}{}
		signature = append(signature, Leg{
			Strike:  letters[inst.Strike.String()],
			Ratio:   int(quantity.IntPart() / g),
			PutCall: inst.PutCall,
		})
	}
	sortSignature(signature)

	// Positions spanning underlyings or expirations are deliberately left
	// unclassified; calendars and pairs have no entry in the table.
	if len(underlyings) != 1 || len(expirations) != 1 {
		return "", signature
	}
	return strategies[signature.String()], signature
}

// DefaultInitialOrderThreshold is the window within which successive orders
// still count as legging into the initial position.
const DefaultInitialOrderThreshold = 300 * time.Second

// InitialTransactions extracts the transactions forming a chain's initial
// position: opening rows from the first order, extended by later orders
// placed within the threshold of the previous accepted one.
func InitialTransactions(records []txn.Record, threshold time.Duration) []txn.Record {
	if threshold <= 0 {
		threshold = DefaultInitialOrderThreshold
	}
	sorted := make([]txn.Record, len(records))
	copy(sorted, records)
	txn.SortByTime(sorted)

	var init []txn.Record
	var initOrderID string
	var initTime time.Time
	started := false
	for _, rec := range sorted {
		if rec.Effect == txn.Closing {
			continue
		}
		if started && rec.OrderID != initOrderID && rec.Time.Sub(initTime) > threshold {
			break
		}
		started = true
		initOrderID = rec.OrderID
		initTime = rec.Time
		init = append(init, rec)
	}
	return init
}
