package chains

import (
	"time"

	"tradechains/internal/chaindb"
	"tradechains/internal/logger"
	"tradechains/internal/strategy"
	"tradechains/internal/txn"
)

// Options controls a full clustering run.
type Options struct {
	Rules LinkRules

	// InitialOrderThreshold is the window used when extracting the initial
	// position for strategy inference. Zero means the default.
	InitialOrderThreshold time.Duration
}

// ChainTransactions is the full pass: scrub the database, cluster the
// transactions, then fold the fresh chain ids back into a new database.
// Neither input is mutated.
func ChainTransactions(records []txn.Record, db *chaindb.DB, opts Options) ([]txn.Record, *chaindb.DB, error) {
	clean := Scrub(records, db)
	chained, err := Group(records, clean, opts.Rules)
	if err != nil {
		return nil, nil, err
	}
	updated := Update(chained, clean, opts.InitialOrderThreshold)
	return chained, updated, nil
}

// Scrub prepares the database for clustering: FINAL chains get their
// machine-assigned ids promoted to confirmed ones, every other auto id is
// dropped for recomputation, and confirmed ids that no longer resolve to a
// transaction are reported.
func Scrub(records []txn.Record, db *chaindb.DB) *chaindb.DB {
	out := db.Clone()

	ids := make(map[string]struct{}, len(records))
	for _, rec := range records {
		ids[rec.TransactionID] = struct{}{}
	}

	claimed := make(map[string]string)
	for _, chain := range out.Chains {
		if chain.Status == chaindb.Final && len(chain.AutoIDs) > 0 {
			chain.IDs = append(chain.IDs, chain.AutoIDs...)
		}
		chain.AutoIDs = nil

		for _, id := range chain.IDs {
			if _, ok := ids[id]; !ok {
				logger.Errorf("chain %s references unknown transaction %s", chain.ChainID, id)
			}
			if other, dup := claimed[id]; dup {
				logger.Errorf("transaction %s confirmed in both chain %s and chain %s", id, other, chain.ChainID)
			} else {
				claimed[id] = chain.ChainID
			}
		}
	}
	return out
}

// Update folds freshly clustered transactions back into the database. New
// transactions land in auto_ids of their chain, chains are created as
// needed, and status and strategy are re-inferred. Mark rows only flag
// their chain as active, they are never recorded.
func Update(records []txn.Record, db *chaindb.DB, initialOrderThreshold time.Duration) *chaindb.DB {
	out := db.Clone()

	inserted := make(map[string]struct{})
	for _, chain := range out.Chains {
		for _, id := range chain.IDs {
			inserted[id] = struct{}{}
		}
	}

	byID := out.ByID()
	txnMap := make(map[string]txn.Record, len(records))
	referenced := make(map[string]struct{})
	active := make(map[string]struct{})

	for _, rec := range records {
		txnMap[rec.TransactionID] = rec
		referenced[rec.ChainID] = struct{}{}
		if rec.RowType == txn.Mark {
			active[rec.ChainID] = struct{}{}
			continue
		}
		if _, done := inserted[rec.TransactionID]; done {
			continue
		}
		inserted[rec.TransactionID] = struct{}{}

		chain := byID[rec.ChainID]
		if chain == nil {
			chain = &chaindb.Chain{ChainID: rec.ChainID}
			out.Chains = append(out.Chains, chain)
			byID[rec.ChainID] = chain
		}
		chain.AutoIDs = append(chain.AutoIDs, rec.TransactionID)
	}

	inferStatus(referenced, active, out)
	inferStrategy(txnMap, out, initialOrderThreshold)
	return out
}

// inferStatus recomputes chain statuses. FINAL is sticky; everything else is
// derived from the transactions on each run.
func inferStatus(referenced, active map[string]struct{}, db *chaindb.DB) {
	for _, chain := range db.Chains {
		if chain.Status == chaindb.Final {
			if _, isActive := active[chain.ChainID]; isActive {
				logger.Errorf("chain %s holds an open position but is marked FINAL", chain.ChainID)
			}
			continue
		}
		// Absent chains are kept, flagged, so the operator can diagnose
		// what happened to their edits.
		if _, ok := referenced[chain.ChainID]; !ok {
			chain.Status = chaindb.Ignore
			continue
		}
		if _, isActive := active[chain.ChainID]; isActive {
			chain.Status = chaindb.Active
		} else {
			chain.Status = chaindb.Closed
		}
	}
}

// inferStrategy back-fills the strategy on chains where the operator has not
// set one.
func inferStrategy(txnMap map[string]txn.Record, db *chaindb.DB, threshold time.Duration) {
	for _, chain := range db.Chains {
		if chain.Strategy != "" {
			continue
		}
		var recs []txn.Record
		for _, id := range chain.IDs {
			if rec, ok := txnMap[id]; ok {
				recs = append(recs, rec)
			}
		}
		for _, id := range chain.AutoIDs {
			if rec, ok := txnMap[id]; ok {
				recs = append(recs, rec)
			}
		}
		init := strategy.InitialTransactions(recs, threshold)
		name, signature := strategy.Infer(init)
		if name != "" {
			chain.Strategy = name
		} else if len(signature) > 0 {
			logger.Warnf("could not infer strategy for chain %s: %s", chain.ChainID, signature)
		}
	}
}
