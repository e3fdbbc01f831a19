// Package instrument parses and renders normalized symbol codes.
//
// A symbol encodes the underlying plus, for options, the expiration and
// strike: "NKE" (equity), "NKE_210815_C195" (equity option), "/CLZ21"
// (future), "/CLZ21_LOM21_P58.5" (option on a future, keyed by its
// expiration code when the exact date is unknown).
package instrument

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Kind of instrument, derived from the symbol shape.
type Kind string

const (
	Equity       Kind = "Equity"
	EquityOption Kind = "EquityOption"
	Future       Kind = "Future"
	FutureOption Kind = "FutureOption"
)

// OptionContractSize is the default deliverable quantity per contract.
var OptionContractSize = decimal.NewFromInt(100)

// Instrument is a symbol broken down into its component fields.
type Instrument struct {
	// Underlying is the stock or futures root. Futures keep the leading
	// slash and calendar code, e.g. "/CLZ21".
	Underlying string

	// Expiration is the option expiration date, zero for outrights and for
	// options on futures known only by their expiration code.
	Expiration time.Time

	// ExpCode is the expiration code for options on futures, e.g. "LOM21".
	ExpCode string

	// PutCall is "P" or "C" for options, empty otherwise.
	PutCall string

	// Strike is the option strike price, zero for outrights.
	Strike decimal.Decimal

	// Multiplier scales quantity to the notional deliverable.
	Multiplier decimal.Decimal
}

var (
	optionRe     = regexp.MustCompile(`^(/?[A-Z0-9]+)_(?:(\d{6})|([A-Z0-9]+))_([CP])(.+)$`)
	outrightRe   = regexp.MustCompile(`^/?[A-Z0-9]+$`)
	underlyingRe = regexp.MustCompile(`^(/?[A-Z0-9]+)(_.*)?`)
)

// Parse builds an Instrument from its symbol code.
func Parse(symbol string) (Instrument, error) {
	if m := optionRe.FindStringSubmatch(symbol); m != nil {
		inst := Instrument{
			Underlying: m[1],
			ExpCode:    m[3],
			PutCall:    m[4],
		}
		if m[2] != "" {
			exp, err := time.Parse("060102", m[2])
			if err != nil {
				return Instrument{}, fmt.Errorf("invalid expiration in symbol %q: %w", symbol, err)
			}
			inst.Expiration = exp
		}
		strike, err := decimal.NewFromString(m[5])
		if err != nil {
			return Instrument{}, fmt.Errorf("invalid strike in symbol %q: %w", symbol, err)
		}
		inst.Strike = strike
		inst.Multiplier = OptionContractSize
		return inst, nil
	}
	if !outrightRe.MatchString(symbol) {
		return Instrument{}, fmt.Errorf("invalid symbol %q", symbol)
	}
	return Instrument{Underlying: symbol, Multiplier: decimal.NewFromInt(1)}, nil
}

// MustParse is Parse for symbols known to be well formed, typically literals
// in tests.
func MustParse(symbol string) Instrument {
	inst, err := Parse(symbol)
	if err != nil {
		panic(err)
	}
	return inst
}

// ParseUnderlying extracts only the underlying from a symbol, without
// validating the option fields.
func ParseUnderlying(symbol string) string {
	m := underlyingRe.FindStringSubmatch(symbol)
	if m == nil {
		return symbol
	}
	return m[1]
}

// Kind classifies the instrument.
func (i Instrument) Kind() Kind {
	future := len(i.Underlying) > 0 && i.Underlying[0] == '/'
	switch {
	case future && i.IsOption():
		return FutureOption
	case future:
		return Future
	case i.IsOption():
		return EquityOption
	default:
		return Equity
	}
}

// IsOption reports whether the instrument is an option.
func (i Instrument) IsOption() bool { return i.PutCall != "" }

// ExpirationKey returns a value that uniquely identifies the expiration
// term: the date when known, the expiration code otherwise, and empty for
// outrights.
func (i Instrument) ExpirationKey() string {
	if !i.Expiration.IsZero() {
		return i.Expiration.Format("060102")
	}
	return i.ExpCode
}

// String renders the instrument back to its symbol code.
func (i Instrument) String() string {
	if !i.IsOption() {
		return i.Underlying
	}
	exp := i.ExpCode
	if !i.Expiration.IsZero() {
		exp = i.Expiration.Format("060102")
	}
	return fmt.Sprintf("%s_%s_%s%s", i.Underlying, exp, i.PutCall, i.Strike)
}
