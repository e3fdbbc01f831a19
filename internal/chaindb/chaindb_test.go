package chaindb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *DB {
	return &DB{Chains: []*Chain{
		{
			ChainID:  "X1.210101_093000.NKE",
			Status:   Final,
			Group:    "Earnings",
			Strategy: "Strangle",
			Tags:     []string{"earnings", "q1"},
			Comment:  "kept for records",
			IDs:      []string{"t1", "t2"},
		},
		{
			ChainID: "X1.210301_110000.AAPL",
			Status:  Active,
			Pop:     0.7,
			Target:  0.25,
			AutoIDs: []string{"t3"},
		},
	}}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	db := sample()
	require.NoError(t, Save(path, db))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, db, loaded)
}

func TestLoadMissingFileYieldsEmptyDB(t *testing.T) {
	db, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, db.Chains)
}

func TestLoadRejectsDuplicateChainIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	data := "chains:\n- chain_id: X1.a\n- chain_id: X1.a\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadRejectsUnknownStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	data := "chains:\n- chain_id: X1.a\n  status: BOGUS\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, Save(path, sample()))
	require.NoError(t, Save(path, &DB{}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.Chains)
}

func TestCloneIsDeep(t *testing.T) {
	db := sample()
	cp := db.Clone()
	cp.Chains[0].IDs[0] = "changed"
	cp.Chains[1].Status = Closed

	assert.Equal(t, "t1", db.Chains[0].IDs[0])
	assert.Equal(t, Active, db.Chains[1].Status)
}

func TestAcceptPromotesAutoIDs(t *testing.T) {
	c := &Chain{ChainID: "X1.a", Status: Active, IDs: []string{"t1"}, AutoIDs: []string{"t2", "t3"}}
	c.Accept(Final, "Premium")

	assert.Equal(t, []string{"t1", "t2", "t3"}, c.IDs)
	assert.Empty(t, c.AutoIDs)
	assert.Equal(t, Final, c.Status)
	assert.Equal(t, "Premium", c.Group)
}
