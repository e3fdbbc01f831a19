package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechains/internal/chaindb"
	"tradechains/internal/config"
	"tradechains/internal/txn"
)

const inputCSV = `account,transaction_id,order_id,datetime,rowtype,symbol,instruction,effect,quantity,price,cost,commissions,fees,description
X1,t1,o1,2024-03-04 10:00:00,Trade,XYZ_240315_P40,SELL,,1,1.50,150,-1,-0.14,SOLD -1 XYZ PUT
X1,t2,o1,2024-03-04 10:00:00,Trade,XYZ_240315_C60,SELL,,1,1.20,120,-1,-0.14,SOLD -1 XYZ CALL
X1,t3,o2,2024-03-06 14:30:00,Trade,XYZ_240315_P40,BUY,,1,0.50,-50,-1,-0.14,BOT +1 XYZ PUT
X1,t4,o2,2024-03-06 14:30:00,Trade,XYZ_240315_C60,BUY,,1,0.40,-40,-1,-0.14,BOT +1 XYZ CALL
`

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.csv"), []byte(inputCSV), 0o644))

	cfg := &config.Config{
		LogLevel: "error",
		Input:    config.InputConfig{Globs: []string{filepath.Join(dir, "*.csv")}},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "test.db")},
		Chains:   config.ChainsConfig{Path: filepath.Join(dir, "chains.yaml")},
		Report:   config.ReportConfig{OutputDir: filepath.Join(dir, "reports")},
	}
	yes := true
	cfg.Chains.ByMatch = &yes
	cfg.Chains.ByOrder = &yes
	cfg.Chains.ByTime = &yes
	cfg.Chains.InitialOrderThresholdSec = 300
	cfg.Matcher.SplitOnCross = &yes
	return cfg, dir
}

func TestRunEndToEnd(t *testing.T) {
	cfg, dir := testConfig(t)
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	snap, err := p.Run(context.Background())
	require.NoError(t, err)

	// One strangle, fully closed.
	require.Len(t, snap.Chains, 1)
	chain := snap.Chains[0]
	assert.Equal(t, "X1.240304_100000.XYZ", chain.ChainID)
	assert.Equal(t, chaindb.Closed, chain.Status)
	assert.Equal(t, "Strangle", chain.Strategy)
	assert.Equal(t, 2, chain.InitLegs)

	for _, rec := range snap.Transactions {
		assert.Equal(t, chain.ChainID, rec.ChainID)
		assert.NotEmpty(t, rec.MatchID)
		assert.NotEqual(t, txn.Effect(""), rec.Effect)
	}

	// The chain database and the reports landed on disk.
	db, err := chaindb.Load(cfg.Chains.Path)
	require.NoError(t, err)
	require.Len(t, db.Chains, 1)
	assert.Equal(t, []string{"t1", "t2", "t3", "t4"}, db.Chains[0].AutoIDs)

	for _, name := range []string{"chains.csv", "chains.html"} {
		_, err := os.Stat(filepath.Join(dir, "reports", name))
		assert.NoError(t, err)
	}
}

func TestRunPinsMarkTime(t *testing.T) {
	cfg, dir := testConfig(t)
	// Only the short put, left open, so a Mark row is synthesized.
	openCSV := `account,transaction_id,order_id,datetime,rowtype,symbol,instruction,effect,quantity,price,cost,commissions,fees,description
X1,t1,o1,2024-03-04 10:00:00,Trade,XYZ_240315_P40,SELL,,1,1.50,150,-1,-0.14,SOLD -1 XYZ PUT
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.csv"), []byte(openCSV), 0o644))
	cfg.Matcher.MarkTime = "2024-03-10T00:00:00Z"

	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	snap, err := p.Run(context.Background())
	require.NoError(t, err)

	var marks []txn.Record
	for _, rec := range snap.Transactions {
		if rec.RowType == txn.Mark {
			marks = append(marks, rec)
		}
	}
	require.Len(t, marks, 1)
	assert.True(t, marks[0].Time.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)))
}

func TestWatchSkipsPipelineOutputs(t *testing.T) {
	cfg, dir := testConfig(t)
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	// The store, its SQLite sidecars, the chain db temp file and the reports
	// are the pipeline's own writes.
	assert.True(t, p.selfWritten(cfg.Database.Path))
	assert.True(t, p.selfWritten(cfg.Database.Path+"-wal"))
	assert.True(t, p.selfWritten(cfg.Database.Path+"-shm"))
	assert.True(t, p.selfWritten(filepath.Join(dir, ".chains-123.yaml")))
	assert.True(t, p.selfWritten(filepath.Join(dir, "reports", "chains.csv")))
	assert.False(t, p.selfWritten(filepath.Join(dir, "input.csv")))
	assert.False(t, p.selfWritten(cfg.Chains.Path))

	// The chain db as Run wrote it does not count as a change; an operator
	// edit does.
	assert.True(t, p.chainsUnchanged())
	require.NoError(t, os.WriteFile(cfg.Chains.Path, []byte("chains: []\n"), 0o644))
	assert.False(t, p.chainsUnchanged())
}

func TestRunIsIdempotent(t *testing.T) {
	cfg, _ := testConfig(t)
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Transactions, second.Transactions)
	assert.Equal(t, first.DB, second.DB)
}
