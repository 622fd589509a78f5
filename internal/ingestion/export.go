package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/voc-classifier/backend/internal/storage/models"
)

var labelColumns = []string{"theme", "sentiment", "product"}

// WriteCSV writes every original column followed by theme, sentiment and
// product, in input row order. A label column already present in the input
// is overwritten in place. Unclassified cells are empty.
func WriteCSV(w io.Writer, ds *models.Dataset) error {
	header := append([]string(nil), ds.Header...)
	positions := make([]int, len(labelColumns))
	for i, col := range labelColumns {
		idx := columnIndex(header, col)
		if idx < 0 {
			idx = len(header)
			header = append(header, col)
		}
		positions[i] = idx
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, row := range ds.Rows {
		rec := make([]string, len(header))
		copy(rec, row.Record)
		labels := []*string{row.Theme, row.Sentiment, row.Product}
		for i, pos := range positions {
			rec[pos] = deref(labels[i])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
