package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tradechains/internal/txn"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func leg(id, order string, seconds int, symbol string, instr txn.Instruction, qty int64, effect txn.Effect) txn.Record {
	return txn.Record{
		Account:       "X1",
		TransactionID: id,
		OrderID:       order,
		Time:          base.Add(time.Duration(seconds) * time.Second),
		RowType:       txn.Trade,
		Symbol:        symbol,
		Instruction:   instr,
		Effect:        effect,
		Quantity:      decimal.NewFromInt(qty),
	}
}

func TestInferSingleLegs(t *testing.T) {
	cases := []struct {
		name   string
		symbol string
		instr  txn.Instruction
		want   string
	}{
		{"long stock", "XYZ", txn.Buy, "Long"},
		{"short stock", "XYZ", txn.Sell, "Short"},
		{"long call", "XYZ_240315_C50", txn.Buy, "LongCall"},
		{"short call", "XYZ_240315_C50", txn.Sell, "ShortCall"},
		{"long put", "XYZ_240315_P50", txn.Buy, "LongPut"},
		{"short put", "XYZ_240315_P50", txn.Sell, "ShortPut"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Infer([]txn.Record{leg("t1", "o1", 0, tc.symbol, tc.instr, 1, "")})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInferMultiLeg(t *testing.T) {
	cases := []struct {
		name string
		legs []txn.Record
		want string
	}{
		{
			"strangle",
			[]txn.Record{
				leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
				leg("t2", "o1", 0, "XYZ_240315_C60", txn.Sell, 1, ""),
			},
			"Strangle",
		},
		{
			"straddle",
			[]txn.Record{
				leg("t1", "o1", 0, "XYZ_240315_P50", txn.Sell, 1, ""),
				leg("t2", "o1", 0, "XYZ_240315_C50", txn.Sell, 1, ""),
			},
			"Straddle",
		},
		{
			"iron condor",
			[]txn.Record{
				leg("t1", "o1", 0, "XYZ_240315_P40", txn.Buy, 1, ""),
				leg("t2", "o1", 0, "XYZ_240315_P45", txn.Sell, 1, ""),
				leg("t3", "o1", 0, "XYZ_240315_C55", txn.Sell, 1, ""),
				leg("t4", "o1", 0, "XYZ_240315_C60", txn.Buy, 1, ""),
			},
			"IronCondor",
		},
		{
			"iron fly",
			[]txn.Record{
				leg("t1", "o1", 0, "XYZ_240315_P40", txn.Buy, 1, ""),
				leg("t2", "o1", 0, "XYZ_240315_P50", txn.Sell, 1, ""),
				leg("t3", "o1", 0, "XYZ_240315_C50", txn.Sell, 1, ""),
				leg("t4", "o1", 0, "XYZ_240315_C60", txn.Buy, 1, ""),
			},
			"IronFly",
		},
		{
			"jade lizard",
			[]txn.Record{
				leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
				leg("t2", "o1", 0, "XYZ_240315_C55", txn.Sell, 1, ""),
				leg("t3", "o1", 0, "XYZ_240315_C60", txn.Buy, 1, ""),
			},
			"JadeLizard",
		},
		{
			"put ratio spread",
			[]txn.Record{
				leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 2, ""),
				leg("t2", "o1", 0, "XYZ_240315_P45", txn.Buy, 1, ""),
			},
			"PutRatioSpread",
		},
		{
			"butterfly",
			[]txn.Record{
				leg("t1", "o1", 0, "XYZ_240315_C45", txn.Buy, 1, ""),
				leg("t2", "o1", 0, "XYZ_240315_C50", txn.Sell, 2, ""),
				leg("t3", "o1", 0, "XYZ_240315_C55", txn.Buy, 1, ""),
			},
			"Butterfly",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Infer(tc.legs)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInferNormalizesSize(t *testing.T) {
	legs := []txn.Record{
		leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 5, ""),
		leg("t2", "o1", 0, "XYZ_240315_C60", txn.Sell, 5, ""),
	}
	got, signature := Infer(legs)
	assert.Equal(t, "Strangle", got)
	assert.Equal(t, "a-1P b-1C", signature.String())
}

func TestInferAggregatesSameContract(t *testing.T) {
	// Two fills of the same leg collapse before normalization.
	legs := []txn.Record{
		leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
		leg("t2", "o1", 1, "XYZ_240315_P40", txn.Sell, 1, ""),
	}
	got, _ := Infer(legs)
	assert.Equal(t, "ShortPut", got)
}

func TestInferRefusesMultipleExpirations(t *testing.T) {
	legs := []txn.Record{
		leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
		leg("t2", "o1", 0, "XYZ_240419_P40", txn.Buy, 1, ""),
	}
	got, signature := Infer(legs)
	assert.Empty(t, got)
	assert.NotEmpty(t, signature)
}

func TestInferRefusesMultipleUnderlyings(t *testing.T) {
	legs := []txn.Record{
		leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
		leg("t2", "o1", 0, "ABC_240315_P40", txn.Sell, 1, ""),
	}
	got, _ := Infer(legs)
	assert.Empty(t, got)
}

func TestInferFlatPosition(t *testing.T) {
	legs := []txn.Record{
		leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
		leg("t2", "o1", 0, "XYZ_240315_P40", txn.Buy, 1, ""),
	}
	got, signature := Infer(legs)
	assert.Empty(t, got)
	assert.Nil(t, signature)
}

func TestInitialTransactionsSameOrder(t *testing.T) {
	records := []txn.Record{
		leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
		leg("t2", "o1", 0, "XYZ_240315_C60", txn.Sell, 1, ""),
		leg("t3", "o2", 3600, "XYZ_240315_P40", txn.Buy, 1, txn.Closing),
	}
	init := InitialTransactions(records, 0)
	ids := make([]string, len(init))
	for i, r := range init {
		ids[i] = r.TransactionID
	}
	assert.Equal(t, []string{"t1", "t2"}, ids)
}

func TestInitialTransactionsLegInWithinThreshold(t *testing.T) {
	records := []txn.Record{
		leg("t1", "o1", 0, "XYZ_240315_P40", txn.Sell, 1, ""),
		leg("t2", "o2", 120, "XYZ_240315_C60", txn.Sell, 1, ""),
		leg("t3", "o3", 3600, "XYZ_240315_C55", txn.Sell, 1, ""),
	}
	init := InitialTransactions(records, 0)
	assert.Len(t, init, 2, "a second order within the window legs in, a later one does not")
}

func TestInitialTransactionsSkipsClosings(t *testing.T) {
	records := []txn.Record{
		leg("t0", "o0", 0, "XYZ_240315_P40", txn.Buy, 1, txn.Closing),
		leg("t1", "o1", 60, "XYZ_240315_P45", txn.Sell, 1, ""),
	}
	init := InitialTransactions(records, 0)
	assert.Len(t, init, 1)
	assert.Equal(t, "t1", init[0].TransactionID)
}
