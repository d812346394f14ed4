// Package export writes the bill snapshot to CSV files and Google Sheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"billtrack/internal/core"
)

// Header is the column order shared by every export target.
var Header = []string{"date", "type", "category", "amount", "remark", "id"}

// Rows renders bills as export rows, header first.
func Rows(bills []core.Bill) [][]string {
	rows := make([][]string, 0, len(bills)+1)
	rows = append(rows, append([]string(nil), Header...))
	for _, b := range bills {
		rows = append(rows, []string{
			b.Date.String(),
			string(b.Type),
			b.Category,
			core.FormatAmount(b.Amount),
			b.RemarkText(),
			strconv.FormatInt(b.ID, 10),
		})
	}
	return rows
}

// WriteCSV writes bills to w as CSV with a header row.
func WriteCSV(w io.Writer, bills []core.Bill) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Rows(bills)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
