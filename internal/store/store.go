// Package store persists imported transactions in a local SQLite database so
// repeated pipeline runs do not depend on the original broker files.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"tradechains/internal/store/model"
	"tradechains/internal/txn"
)

// Store wraps the SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.TransactionModel{}, &model.ImportBatchModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep a little parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveBatch upserts the records of one import run and records the batch.
// Re-importing a file replaces rows by transaction id, so imports are
// idempotent.
func (s *Store) SaveBatch(ctx context.Context, batchID, source string, records []txn.Record, raws [][]byte) error {
	if len(raws) != 0 && len(raws) != len(records) {
		return fmt.Errorf("store: %d raw payloads for %d records", len(raws), len(records))
	}
	now := time.Now().Unix()
	rows := make([]model.TransactionModel, 0, len(records))
	for i, rec := range records {
		row := toModel(rec, batchID, now)
		if len(raws) != 0 {
			row.Raw = raws[i]
		}
		rows = append(rows, row)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "transaction_id"}},
				UpdateAll: true,
			}).CreateInBatches(rows, 200).Error
			if err != nil {
				return fmt.Errorf("store: save transactions: %w", err)
			}
		}
		batch := model.ImportBatchModel{
			BatchID:       batchID,
			Source:        source,
			Rows:          len(rows),
			CreatedAtUnix: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}},
			UpdateAll: true,
		}).Create(&batch).Error; err != nil {
			return fmt.Errorf("store: save batch: %w", err)
		}
		return nil
	})
}

// Transactions returns every stored transaction in time order.
func (s *Store) Transactions(ctx context.Context) ([]txn.Record, error) {
	var rows []model.TransactionModel
	err := s.db.WithContext(ctx).
		Order("time ASC, transaction_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load transactions: %w", err)
	}
	records := make([]txn.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Count returns the number of stored transactions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.TransactionModel{}).Count(&n).Error
	return n, err
}

func toModel(rec txn.Record, batchID string, now int64) model.TransactionModel {
	return model.TransactionModel{
		Account:       rec.Account,
		TransactionID: rec.TransactionID,
		OrderID:       rec.OrderID,
		Time:          rec.Time,
		RowType:       string(rec.RowType),
		Symbol:        rec.Symbol,
		Instruction:   string(rec.Instruction),
		Effect:        string(rec.Effect),
		Quantity:      rec.Quantity.String(),
		Price:         rec.Price.String(),
		Cost:          rec.Cost.String(),
		Commissions:   rec.Commissions.String(),
		Fees:          rec.Fees.String(),
		Description:   rec.Description,
		BatchID:       batchID,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
}

func fromModel(row model.TransactionModel) (txn.Record, error) {
	dec := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	rec := txn.Record{
		Account:       row.Account,
		TransactionID: row.TransactionID,
		OrderID:       row.OrderID,
		Time:          row.Time,
		RowType:       txn.RowType(row.RowType),
		Symbol:        row.Symbol,
		Instruction:   txn.Instruction(row.Instruction),
		Effect:        txn.Effect(row.Effect),
		Description:   row.Description,
	}
	var err error
	if rec.Quantity, err = dec(row.Quantity); err != nil {
		return txn.Record{}, fmt.Errorf("store: row %s: bad quantity: %w", row.TransactionID, err)
	}
	if rec.Price, err = dec(row.Price); err != nil {
		return txn.Record{}, fmt.Errorf("store: row %s: bad price: %w", row.TransactionID, err)
	}
	if rec.Cost, err = dec(row.Cost); err != nil {
		return txn.Record{}, fmt.Errorf("store: row %s: bad cost: %w", row.TransactionID, err)
	}
	if rec.Commissions, err = dec(row.Commissions); err != nil {
		return txn.Record{}, fmt.Errorf("store: row %s: bad commissions: %w", row.TransactionID, err)
	}
	if rec.Fees, err = dec(row.Fees); err != nil {
		return txn.Record{}, fmt.Errorf("store: row %s: bad fees: %w", row.TransactionID, err)
	}
	return rec, nil
}
