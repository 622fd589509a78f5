package ingestion

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/pkg/logger"
)

var metadataSheets = map[string]bool{
	"info":     true,
	"metadata": true,
	"about":    true,
	"readme":   true,
	"notes":    true,
}

// ParseFile routes an upload to the CSV or workbook reader by extension.
func ParseFile(filename string, content []byte, opts Options) (*models.Dataset, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return ParseExcel(content)
	case ".csv", "":
		return Parse(content, opts)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrFormat, filename)
	}
}

// ParseExcel reads the first non-metadata sheet of a workbook.
func ParseExcel(content []byte) (*models.Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", ErrFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrFormat)
	}

	sheet := sheets[len(sheets)-1]
	for _, s := range sheets {
		if !metadataSheets[strings.ToLower(s)] {
			sheet = s
			break
		}
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", ErrFormat, sheet, err)
	}

	logger.Debug("Workbook sheet selected", zap.String("sheet", sheet), zap.Int("rows", len(records)))

	return fromRecords(records)
}
