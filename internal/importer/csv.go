package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradechains/internal/txn"
)

// timeLayouts are tried in order when parsing the datetime column.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
}

func parseDecimal(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

// readCSV reads a headered CSV export. Column order is free; unknown
// columns are ignored.
func readCSV(path string) ([]txn.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("importer: %s: reading header: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"account", "transaction_id", "datetime", "rowtype", "symbol"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("importer: %s: missing column %q", path, required)
		}
	}

	field := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var records []txn.Record
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("importer: %s:%d: %w", path, line, err)
		}
		rec := txn.Record{
			Account:       field(row, "account"),
			TransactionID: field(row, "transaction_id"),
			OrderID:       field(row, "order_id"),
			RowType:       txn.RowType(field(row, "rowtype")),
			Symbol:        field(row, "symbol"),
			Instruction:   txn.Instruction(field(row, "instruction")),
			Effect:        txn.Effect(field(row, "effect")),
			Description:   field(row, "description"),
		}
		if rec.Time, err = parseTime(field(row, "datetime")); err != nil {
			return nil, fmt.Errorf("importer: %s:%d: %w", path, line, err)
		}
		if rec.Quantity, err = parseDecimal(field(row, "quantity")); err != nil {
			return nil, fmt.Errorf("importer: %s:%d: bad quantity: %w", path, line, err)
		}
		if rec.Price, err = parseDecimal(field(row, "price")); err != nil {
			return nil, fmt.Errorf("importer: %s:%d: bad price: %w", path, line, err)
		}
		if rec.Cost, err = parseDecimal(field(row, "cost")); err != nil {
			return nil, fmt.Errorf("importer: %s:%d: bad cost: %w", path, line, err)
		}
		if rec.Commissions, err = parseDecimal(field(row, "commissions")); err != nil {
			return nil, fmt.Errorf("importer: %s:%d: bad commissions: %w", path, line, err)
		}
		if rec.Fees, err = parseDecimal(field(row, "fees")); err != nil {
			return nil, fmt.Errorf("importer: %s:%d: bad fees: %w", path, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
