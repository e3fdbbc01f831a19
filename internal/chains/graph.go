// Package chains clusters matched transactions into chains, the episodes a
// position goes through from open to flat, and reconciles the result with
// the operator-edited chain database.
//
// Transactions are grouped when they share an order, when they reduce each
// other, and when their positions overlap in time on the same underlying.
// Every group becomes one chain.
package chains

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"tradechains/internal/chaindb"
	"tradechains/internal/instrument"
	"tradechains/internal/logger"
	"tradechains/internal/txn"
)

// LinkRules toggles the three clustering heuristics.
type LinkRules struct {
	ByMatch bool
	ByOrder bool
	ByTime  bool
}

// DefaultLinkRules enables all three heuristics.
func DefaultLinkRules() LinkRules {
	return LinkRules{ByMatch: true, ByOrder: true, ByTime: true}
}

// Node key prefixes keep the id spaces of the different node kinds apart in
// the shared graph.
const (
	txnNode   = "txn:"
	orderNode = "order:"
	matchNode = "match:"
	chainNode = "chain:"
	termNode  = "term:"
)

// unionFind is a disjoint set over string node keys, with path compression.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string), rank: make(map[string]int)}
}

func (u *unionFind) find(x string) string {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// Group assigns a chain id to every record and returns the annotated copy.
// The database is a side input here: FINAL chains claim their transactions
// outright, and explicit ids on other chains seed the clustering so operator
// splits and joins survive recomputation.
func Group(records []txn.Record, db *chaindb.DB, rules LinkRules) ([]txn.Record, error) {
	var finalChains, matchChains []*chaindb.Chain
	for _, c := range db.Chains {
		if c.Status == chaindb.Final {
			finalChains = append(finalChains, c)
		} else {
			matchChains = append(matchChains, c)
		}
	}

	finalChainIDs := make(map[string]struct{}, len(finalChains))
	txnChainMap := make(map[string]string)
	finalTxnMap := make(map[string]string)
	for _, c := range finalChains {
		finalChainIDs[c.ChainID] = struct{}{}
		for _, id := range c.IDs {
			finalTxnMap[id] = c.ChainID
			txnChainMap[id] = c.ChainID
		}
	}
	// Explicit ids on active and closed chains, consumed as their records
	// are seen.
	explicitMap := make(map[string]string)
	for _, c := range matchChains {
		for _, id := range c.IDs {
			explicitMap[id] = c.ChainID
			txnChainMap[id] = c.ChainID
		}
	}

	// Records claimed by FINAL chains stay out of the graph entirely.
	var matchRecords []txn.Record
	for _, rec := range records {
		if _, ok := finalTxnMap[rec.TransactionID]; !ok {
			matchRecords = append(matchRecords, rec)
		}
	}

	uf := newUnionFind()
	for _, rec := range matchRecords {
		key := txnNode + rec.TransactionID
		uf.find(key)

		if chainID, ok := explicitMap[rec.TransactionID]; ok {
			delete(explicitMap, rec.TransactionID)
			uf.union(key, chainNode+chainID)
		}
		if rules.ByOrder && rec.OrderID != "" {
			uf.union(key, orderNode+rec.OrderID)
		}
		if rules.ByMatch && rec.MatchID != "" {
			uf.union(key, matchNode+rec.MatchID)
		}
	}

	if rules.ByTime {
		if err := linkByOverlapping(matchRecords, uf); err != nil {
			return nil, err
		}
	}

	for id, chainID := range explicitMap {
		logger.Warnf("explicit transaction id %s from chain %s not seen in log", id, chainID)
	}

	// Collect components in first-seen order for deterministic logs.
	components := make(map[string][]txn.Record)
	var roots []string
	for _, rec := range matchRecords {
		root := uf.find(txnNode + rec.TransactionID)
		if _, ok := components[root]; !ok {
			roots = append(roots, root)
		}
		components[root] = append(components[root], rec)
	}

	for _, root := range roots {
		chainID := ChainName(components[root], txnChainMap)
		if _, collides := finalChainIDs[chainID]; collides {
			return nil, fmt.Errorf("chain id %s collides with a finalized chain", chainID)
		}
		for _, rec := range components[root] {
			txnChainMap[rec.TransactionID] = chainID
		}
	}

	out := make([]txn.Record, len(records))
	for i, rec := range records {
		rec.ChainID = txnChainMap[rec.TransactionID]
		out[i] = rec
	}
	return out, nil
}

// ChainName picks the chain id for one cluster. A single explicit id wins;
// several explicit ids is an operator error, logged, and the name falls back
// to the generated form: account, timestamp of the earliest transaction and
// underlying.
func ChainName(txns []txn.Record, chainMap map[string]string) string {
	sorted := make([]txn.Record, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Time.Before(sorted[j].Time)
		}
		return sorted[i].Underlying() < sorted[j].Underlying()
	})

	explicit := make(map[string]struct{})
	for _, t := range sorted {
		if chainID, ok := chainMap[t.TransactionID]; ok {
			explicit[chainID] = struct{}{}
		}
	}
	if len(explicit) == 1 {
		for chainID := range explicit {
			return chainID
		}
	}
	if len(explicit) > 1 {
		ids := make([]string, 0, len(explicit))
		for chainID := range explicit {
			ids = append(ids, chainID)
		}
		sort.Strings(ids)
		logger.Errorf("multiple explicit chains for one cluster: %s", strings.Join(ids, ", "))
	}

	first := sorted[0]
	return strings.Join([]string{
		first.Account,
		first.Time.Format("060102_150405"),
		strings.TrimPrefix(first.Underlying(), "/"),
	}, ".")
}

// term accumulates the open quantities of one expiration bucket on an
// underlying. The empty expiration key is the outright position.
type term struct {
	id         string
	quantities map[string]decimal.Decimal
}

// linkByOverlapping unions transactions whose positions coexist: options
// link to a live outright in the same underlying and vice versa, and
// dividends link to the live outright. Each (expiration, open interval)
// gets its own term node so disjoint episodes stay apart.
func linkByOverlapping(records []txn.Record, uf *unionFind) error {
	type underKey struct {
		account    string
		underlying string
	}
	positions := make(map[underKey]map[string]*term)
	seq := 0

	for _, rec := range records {
		inst, err := instrument.Parse(rec.Symbol)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", rec.TransactionID, err)
		}
		key := underKey{account: rec.Account, underlying: inst.Underlying}
		undermap := positions[key]
		if undermap == nil {
			undermap = make(map[string]*term)
			positions[key] = undermap
		}

		expiration := inst.ExpirationKey()
		cur, exists := undermap[expiration]
		if rec.RowType == txn.Dividend && !exists {
			return fmt.Errorf("dividend %s on %s with no open position", rec.TransactionID, rec.Symbol)
		}
		if !exists {
			seq++
			cur = &term{
				id:         fmt.Sprintf("%s%s/%s/%s/%d", termNode, rec.Account, inst.Underlying, expiration, seq),
				quantities: make(map[string]decimal.Decimal),
			}
			undermap[expiration] = cur

			if expiration == "" {
				// A new outright joins every live expiration bucket.
				for exp, other := range undermap {
					if exp != "" {
						uf.union(cur.id, other.id)
					}
				}
			} else if outright, ok := undermap[""]; ok {
				// A new option bucket joins the live outright.
				uf.union(cur.id, outright.id)
			}
		} else if rec.RowType == txn.Dividend {
			if outright, ok := undermap[""]; ok {
				uf.union(cur.id, outright.id)
			}
		}

		uf.union(cur.id, txnNode+rec.TransactionID)

		if rec.RowType != txn.Dividend {
			q := cur.quantities[rec.Symbol].Add(rec.SignedQuantity())
			if q.IsZero() {
				delete(cur.quantities, rec.Symbol)
			} else {
				cur.quantities[rec.Symbol] = q
			}
		}
		if len(cur.quantities) == 0 {
			delete(undermap, expiration)
		}
	}

	// Mark rows flatten everything upstream, so leftovers indicate a data
	// problem. Not fatal.
	for key, undermap := range positions {
		for expiration, cur := range undermap {
			for symbol, q := range cur.quantities {
				logger.Errorf("position not flat after all transactions: %s/%s %s %s=%s",
					key.account, key.underlying, expiration, symbol, q)
			}
		}
	}
	return nil
}
