package importer

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"tradechains/internal/txn"
)

func jsonDecimal(dst *decimal.Decimal, v gjson.Result) error {
	if !v.Exists() || v.String() == "" {
		*dst = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// readJSON reads a JSON export: either a bare array of transaction objects
// or an object with a "transactions" array. The original row payload is
// preserved for the store.
func readJSON(path string) ([]txn.Record, [][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("importer: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, nil, fmt.Errorf("importer: %s: invalid JSON", path)
	}

	root := gjson.ParseBytes(data)
	rows := root
	if !root.IsArray() {
		rows = root.Get("transactions")
		if !rows.IsArray() {
			return nil, nil, fmt.Errorf("importer: %s: expected an array of transactions", path)
		}
	}

	var (
		records []txn.Record
		raws    [][]byte
		rowErr  error
	)
	index := 0
	rows.ForEach(func(_, row gjson.Result) bool {
		index++
		rec := txn.Record{
			Account:       row.Get("account").String(),
			TransactionID: row.Get("transaction_id").String(),
			OrderID:       row.Get("order_id").String(),
			RowType:       txn.RowType(row.Get("rowtype").String()),
			Symbol:        row.Get("symbol").String(),
			Instruction:   txn.Instruction(row.Get("instruction").String()),
			Effect:        txn.Effect(row.Get("effect").String()),
			Description:   row.Get("description").String(),
		}
		var err error
		if rec.Time, err = parseTime(row.Get("datetime").String()); err != nil {
			rowErr = fmt.Errorf("importer: %s: row %d: %w", path, index, err)
			return false
		}
		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"quantity", &rec.Quantity},
			{"price", &rec.Price},
			{"cost", &rec.Cost},
			{"commissions", &rec.Commissions},
			{"fees", &rec.Fees},
		}
		for _, f := range fields {
			if err := jsonDecimal(f.dst, row.Get(f.name)); err != nil {
				rowErr = fmt.Errorf("importer: %s: row %d: bad %s: %w", path, index, f.name, err)
				return false
			}
		}
		records = append(records, rec)
		raws = append(raws, []byte(row.Raw))
		return true
	})
	if rowErr != nil {
		return nil, nil, rowErr
	}
	return records, raws, nil
}
