// Package model defines the persistence schema for imported transactions.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionModel is one imported transaction row. Monetary columns are
// stored as strings to keep decimal values exact across round trips.
type TransactionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Account       string         `gorm:"column:account;index"`
	TransactionID string         `gorm:"column:transaction_id;uniqueIndex"`
	OrderID       string         `gorm:"column:order_id;index"`
	Time          time.Time      `gorm:"column:time;index"`
	RowType       string         `gorm:"column:rowtype"`
	Symbol        string         `gorm:"column:symbol;index"`
	Instruction   string         `gorm:"column:instruction"`
	Effect        string         `gorm:"column:effect"`
	Quantity      string         `gorm:"column:quantity"`
	Price         string         `gorm:"column:price"`
	Cost          string         `gorm:"column:cost"`
	Commissions   string         `gorm:"column:commissions"`
	Fees          string         `gorm:"column:fees"`
	Description   string         `gorm:"column:description"`
	BatchID       string         `gorm:"column:batch_id;index"`
	Raw           datatypes.JSON `gorm:"column:raw"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (TransactionModel) TableName() string { return "transactions" }

// ImportBatchModel records one import run over one source file.
type ImportBatchModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	BatchID       string `gorm:"column:batch_id;uniqueIndex"`
	Source        string `gorm:"column:source"`
	Rows          int    `gorm:"column:rows"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (ImportBatchModel) TableName() string { return "import_batches" }
