// Package pipeline wires the import, match, clustering and report stages
// into one run, and optionally keeps them running against changing inputs.
package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradechains/internal/chaindb"
	"tradechains/internal/chains"
	"tradechains/internal/config"
	"tradechains/internal/importer"
	"tradechains/internal/logger"
	"tradechains/internal/match"
	"tradechains/internal/report"
	"tradechains/internal/server"
	"tradechains/internal/store"
	"tradechains/internal/txn"
)

// Pipeline holds the long-lived resources of the processing stages.
type Pipeline struct {
	cfg   *config.Config
	store *store.Store

	// chainsSum is the digest of the chain database as last written by Run.
	// The watcher uses it to tell the pipeline's own rewrite apart from an
	// operator edit.
	mu        sync.Mutex
	chainsSum [sha256.Size]byte
}

// New opens the transaction store and prepares a pipeline.
func New(cfg *config.Config) (*Pipeline, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open store: %w", err)
	}
	return &Pipeline{cfg: cfg, store: st}, nil
}

// Close releases the pipeline's resources.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

// Run executes one full pass: import the configured sources into the store,
// match, cluster against the chain database, rewrite the database, and
// write the reports.
func (p *Pipeline) Run(ctx context.Context) (*server.Snapshot, error) {
	if err := p.importSources(ctx); err != nil {
		return nil, err
	}

	records, err := p.store.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	logger.Infof("processing %d transactions", len(records))

	markTime, err := p.cfg.Matcher.MarkTimestamp()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	matched, err := match.Process(records, match.Options{
		MarkTime:     markTime,
		SplitOnCross: *p.cfg.Matcher.SplitOnCross,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: match: %w", err)
	}

	db, err := chaindb.Load(p.cfg.Chains.Path)
	if err != nil {
		return nil, err
	}
	chained, updated, err := chains.ChainTransactions(matched, db, chains.Options{
		Rules: chains.LinkRules{
			ByMatch: *p.cfg.Chains.ByMatch,
			ByOrder: *p.cfg.Chains.ByOrder,
			ByTime:  *p.cfg.Chains.ByTime,
		},
		InitialOrderThreshold: p.cfg.Chains.InitialOrderThreshold(),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: chain: %w", err)
	}
	if err := chaindb.Save(p.cfg.Chains.Path, updated); err != nil {
		return nil, err
	}
	p.recordChainsWrite()
	logger.Infof("chain database updated with %d chains", len(updated.Chains))

	rows := report.BuildChains(chained, updated, report.Options{
		InitialOrderThreshold: p.cfg.Chains.InitialOrderThreshold(),
	})
	if err := p.writeReports(rows); err != nil {
		return nil, err
	}

	return &server.Snapshot{
		Transactions: chained,
		Chains:       rows,
		DB:           updated,
		GeneratedAt:  time.Now(),
	}, nil
}

func (p *Pipeline) recordChainsWrite() {
	data, err := os.ReadFile(p.cfg.Chains.Path)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.chainsSum = sha256.Sum256(data)
	p.mu.Unlock()
}

// chainsUnchanged reports whether the chain database on disk still matches
// what Run last wrote. A missing or unreadable file counts as changed.
func (p *Pipeline) chainsUnchanged() bool {
	data, err := os.ReadFile(p.cfg.Chains.Path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	p.mu.Lock()
	defer p.mu.Unlock()
	return sum == p.chainsSum
}

func (p *Pipeline) importSources(ctx context.Context) error {
	paths, err := importer.Expand(p.cfg.Input.Globs)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		logger.Warnf("no input files matched %v", p.cfg.Input.Globs)
	}
	for _, path := range paths {
		file, err := importer.ReadFile(path)
		if err != nil {
			return err
		}
		batchID := uuid.NewString()
		if err := p.store.SaveBatch(ctx, batchID, path, file.Records, file.Raws); err != nil {
			return err
		}
		logger.Infof("imported %d rows from %s", len(file.Records), path)
	}
	return nil
}

func (p *Pipeline) writeReports(rows []report.ChainRow) error {
	dir := p.cfg.Report.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := report.WriteCSV(filepath.Join(dir, "chains.csv"), rows); err != nil {
		return err
	}
	if err := report.WriteChart(filepath.Join(dir, "chains.html"), rows); err != nil {
		return err
	}
	logger.Infof("wrote reports for %d chains to %s", len(rows), dir)
	return nil
}

// Validate re-checks the full stored log without producing output.
func (p *Pipeline) Validate(ctx context.Context) error {
	records, err := p.store.Transactions(ctx)
	if err != nil {
		return err
	}
	return txn.Validate(records)
}
