// Package export renders run results as downloadable artifacts.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rahulkarwa/promptpoll/internal/store"
)

var csvHeader = []string{"question", "model", "provider", "answer", "citations", "sentiment", "cost_usd"}

// WriteCSV renders rows as RFC 4180 CSV. Citations are joined with "; " into
// a single column; sentiment is blank when no analysis exists for the row.
func WriteCSV(w io.Writer, rows []store.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		sentiment := ""
		if row.Sentiment != nil {
			sentiment = fmt.Sprintf("%.4f", *row.Sentiment)
		}
		record := []string{
			row.Question,
			row.Model,
			row.Provider,
			row.Answer,
			strings.Join(row.Citations, "; "),
			sentiment,
			fmt.Sprintf("%.6f", row.CostUSD),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
