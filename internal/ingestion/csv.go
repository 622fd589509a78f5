package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/pkg/logger"
)

const (
	ColumnComment   = "comment_text"
	ColumnTimestamp = "timestamp"
	ColumnGroup     = "group"
)

// ErrFormat marks input that cannot be read as a feedback table.
var ErrFormat = errors.New("format error")

type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "iso-8859-1"
)

// ParseEncoding maps configuration spellings to an Encoding. An empty name
// selects the ISO-8859-1 default.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "iso-8859-1", "latin1", "latin-1", "":
		return EncodingLatin1, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", name)
	}
}

type Options struct {
	Encoding Encoding
}

// extra layouts tried after cast's own list
var timestampLayouts = []string{
	"01/02/2006",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04",
	"2006/01/02",
	"2006/01/02 15:04:05",
}

// Parse reads a CSV upload into a Dataset. It fails with ErrFormat when the
// content is not CSV or lacks the comment_text or timestamp column.
func Parse(content []byte, opts Options) (*models.Dataset, error) {
	reader := csv.NewReader(decode(content, opts.Encoding))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse CSV: %v", ErrFormat, err)
	}
	return fromRecords(records)
}

func decode(content []byte, enc Encoding) io.Reader {
	var r io.Reader = bytes.NewReader(content)
	switch enc {
	case EncodingLatin1:
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	default:
		return transform.NewReader(r, xunicode.UTF8BOM.NewDecoder())
	}
}

func fromRecords(records [][]string) (*models.Dataset, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrFormat)
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	commentIdx := columnIndex(header, ColumnComment)
	timestampIdx := columnIndex(header, ColumnTimestamp)
	if commentIdx < 0 || timestampIdx < 0 {
		return nil, fmt.Errorf("%w: missing required columns %q and %q (found %v)",
			ErrFormat, ColumnComment, ColumnTimestamp, header)
	}
	groupIdx := columnIndex(header, ColumnGroup)

	body := records[1:]
	rows := make([]models.FeedbackRow, 0, len(body))
	for i, rec := range body {
		if isBlank(rec) {
			continue
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d",
				ErrFormat, i+2, len(rec), len(header))
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}

		row := models.FeedbackRow{
			ID:          len(rows),
			CommentText: rec[commentIdx],
			Record:      rec,
		}
		row.Timestamp = parseTimestamp(rec[timestampIdx], i+2)
		if groupIdx >= 0 {
			row.Group = rec[groupIdx]
		}
		rows = append(rows, row)
	}

	return &models.Dataset{Header: header, Rows: rows}, nil
}

func parseTimestamp(value string, line int) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := cast.ToTimeE(value); err == nil {
		return ts
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	logger.Warn("Unparseable timestamp, leaving empty",
		zap.Int("line", line),
		zap.String("value", value),
	)
	return time.Time{}
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
