package report

import (
	"encoding/csv"
	"fmt"
	"os"
)

var csvHeader = []string{
	"chain_id", "account", "underlyings", "status", "group", "strategy",
	"mindate", "maxdate", "days", "init", "init_legs", "adjust",
	"pnl_chain", "net_liq", "pnl_cash", "commissions", "fees", "fifo_cost",
	"pop", "target", "pnl_win", "pnl_loss", "pnl_frac", "net_win", "net_loss",
}

// WriteCSV writes the chain rows to a CSV file.
func WriteCSV(path string, rows []ChainRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ChainID,
			row.Account,
			row.Underlyings,
			string(row.Status),
			row.Group,
			row.Strategy,
			row.MinDate.Format("2006-01-02"),
			row.MaxDate.Format("2006-01-02"),
			fmt.Sprintf("%d", row.Days),
			row.Init.String(),
			fmt.Sprintf("%d", row.InitLegs),
			fmt.Sprintf("%d", row.Adjust),
			row.PnlChain.String(),
			row.NetLiq.String(),
			row.PnlCash.String(),
			row.Commissions.String(),
			row.Fees.String(),
			row.FifoCost.String(),
			row.Pop.String(),
			row.Target.String(),
			row.PnlWin.String(),
			row.PnlLoss.String(),
			row.PnlFrac.String(),
			row.NetWin.String(),
			row.NetLoss.String(),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
