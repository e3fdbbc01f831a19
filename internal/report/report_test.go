package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechains/internal/chaindb"
	"tradechains/internal/txn"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func rec(id, order, chainID string, minutes int, symbol string, instr txn.Instruction, qty, cost int64, effect txn.Effect) txn.Record {
	return txn.Record{
		Account:       "X1",
		TransactionID: id,
		OrderID:       order,
		Time:          base.Add(time.Duration(minutes) * time.Minute),
		RowType:       txn.Trade,
		Symbol:        symbol,
		Instruction:   instr,
		Effect:        effect,
		Quantity:      decimal.NewFromInt(qty),
		Cost:          decimal.NewFromInt(cost),
		Commissions:   decimal.NewFromInt(-1),
		Fees:          decimal.NewFromInt(0),
		ChainID:       chainID,
	}
}

func TestBuildChainsClosedChain(t *testing.T) {
	chainID := "X1.240304_100000.XYZ"
	records := []txn.Record{
		rec("t1", "o1", chainID, 0, "XYZ_240315_P40", txn.Sell, 1, 150, ""),
		rec("t2", "o2", chainID, 2880, "XYZ_240315_P40", txn.Buy, 1, -50, txn.Closing),
	}
	db := &chaindb.DB{Chains: []*chaindb.Chain{
		{ChainID: chainID, Status: chaindb.Closed, Strategy: "ShortPut", Group: "Premium"},
	}}

	rows := BuildChains(records, db, Options{})
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, chainID, row.ChainID)
	assert.Equal(t, "X1", row.Account)
	assert.Equal(t, "XYZ", row.Underlyings)
	assert.Equal(t, chaindb.Closed, row.Status)
	assert.Equal(t, "Premium", row.Group)
	assert.Equal(t, "ShortPut", row.Strategy)
	assert.Equal(t, 3, row.Days)
	assert.Equal(t, 1, row.InitLegs)
	assert.True(t, row.Init.Equal(decimal.NewFromInt(150)))
	assert.True(t, row.PnlChain.Equal(decimal.NewFromInt(100)))
	assert.True(t, row.NetLiq.IsZero())
	assert.True(t, row.Commissions.Equal(decimal.NewFromInt(-2)))
	assert.True(t, row.FifoCost.IsZero(), "closed chains have no position to price")

	// Kelly defaults: win half the credit, risk at 80/20 odds.
	assert.True(t, row.Pop.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, row.PnlWin.Equal(decimal.NewFromInt(75)))
	assert.True(t, row.PnlLoss.Equal(decimal.NewFromInt(-300)))
	assert.True(t, row.PnlFrac.Equal(decimal.RequireFromString("1.33")))
}

func TestBuildChainsActiveChainFifoCost(t *testing.T) {
	chainID := "X1.240304_100000.XYZ"
	mark := rec("mark-1", "", chainID, 3000, "XYZ_240315_P40", txn.Buy, 1, 0, txn.Closing)
	mark.RowType = txn.Mark
	mark.Commissions = decimal.Zero
	records := []txn.Record{
		rec("t1", "o1", chainID, 0, "XYZ_240315_P40", txn.Sell, 1, 150, ""),
		mark,
	}

	rows := BuildChains(records, &chaindb.DB{}, Options{})
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, chaindb.Status("NoStatus"), row.Status)
	assert.Equal(t, "NoGroup", row.Group)
	assert.True(t, row.FifoCost.Equal(decimal.NewFromInt(150)), "short credit carried as positive cost")
}

func TestBuildChainsCountsAdjustments(t *testing.T) {
	chainID := "X1.240304_100000.XYZ"
	records := []txn.Record{
		rec("t1", "o1", chainID, 0, "XYZ_240315_P40", txn.Sell, 2, 300, ""),
		// Roll 20 minutes later, two fills in one burst.
		rec("t2", "o2", chainID, 20, "XYZ_240315_P40", txn.Buy, 1, -80, txn.Closing),
		rec("t3", "o2", chainID, 21, "XYZ_240315_P45", txn.Sell, 1, 120, ""),
		// Final close, well separated.
		rec("t4", "o3", chainID, 2880, "XYZ_240315_P40", txn.Buy, 1, -20, txn.Closing),
		rec("t5", "o3", chainID, 2880, "XYZ_240315_P45", txn.Buy, 1, -30, txn.Closing),
	}

	rows := BuildChains(records, &chaindb.DB{}, Options{})
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Adjust, "one burst beyond open and close")
}

func TestBuildChainsSortsByMaxDate(t *testing.T) {
	records := []txn.Record{
		rec("t1", "o1", "X1.b", 0, "XYZ", txn.Buy, 1, -100, ""),
		rec("t2", "o2", "X1.b", 10000, "XYZ", txn.Sell, 1, 120, txn.Closing),
		rec("t3", "o3", "X1.a", 100, "ABC", txn.Buy, 1, -50, ""),
		rec("t4", "o4", "X1.a", 200, "ABC", txn.Sell, 1, 60, txn.Closing),
	}
	rows := BuildChains(records, &chaindb.DB{}, Options{})
	require.Len(t, rows, 2)
	assert.Equal(t, "X1.a", rows[0].ChainID)
	assert.Equal(t, "X1.b", rows[1].ChainID)
}

func TestWriteCSV(t *testing.T) {
	chainID := "X1.240304_100000.XYZ"
	records := []txn.Record{
		rec("t1", "o1", chainID, 0, "XYZ_240315_P40", txn.Sell, 1, 150, ""),
		rec("t2", "o2", chainID, 2880, "XYZ_240315_P40", txn.Buy, 1, -50, txn.Closing),
	}
	rows := BuildChains(records, &chaindb.DB{}, Options{})

	path := filepath.Join(t.TempDir(), "chains.csv")
	require.NoError(t, WriteCSV(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chain_id,account")
	assert.Contains(t, string(data), chainID)
}

func TestWriteChart(t *testing.T) {
	chainID := "X1.240304_100000.XYZ"
	records := []txn.Record{
		rec("t1", "o1", chainID, 0, "XYZ_240315_P40", txn.Sell, 1, 150, ""),
		rec("t2", "o2", chainID, 2880, "XYZ_240315_P40", txn.Buy, 1, -50, txn.Closing),
	}
	rows := BuildChains(records, &chaindb.DB{}, Options{})

	path := filepath.Join(t.TempDir(), "chains.html")
	require.NoError(t, WriteChart(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cumulative")
}
