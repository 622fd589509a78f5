package classify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/llm"
	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/pkg/logger"
)

// ErrAlignment marks model output that could not be mapped onto rows. It is
// reported, never returned as a failure.
var ErrAlignment = errors.New("alignment error")

type ParseKind int

const (
	// ParsedArray holds entries decoded from a JSON array.
	ParsedArray ParseKind = iota
	// RawText is model output that did not contain a usable JSON array.
	RawText
	// Empty means there was no model output to parse.
	Empty
)

func (k ParseKind) String() string {
	switch k {
	case ParsedArray:
		return "parsed_array"
	case RawText:
		return "raw_text"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Entry is one element of the model's JSON array. Nil fields were absent or null.
type Entry struct {
	Comment   *string
	Theme     *string
	Sentiment *string
	Product   *string
}

type ParseResult struct {
	Kind    ParseKind
	Entries []Entry
	Raw     string
	Err     error
}

// FromReply converts a generation reply into a ParseResult.
func FromReply(reply llm.Reply) ParseResult {
	if reply.Kind == llm.ReplyMissingContent {
		return ParseResult{
			Kind: Empty,
			Raw:  reply.Text(),
			Err:  fmt.Errorf("%w: %s", ErrAlignment, reply.Text()),
		}
	}
	return ParseResponse(reply.Content)
}

// ParseResponse extracts the JSON array between the first '[' and the last
// ']' of raw. When either bracket is missing the whole text is parsed.
func ParseResponse(raw string) ParseResult {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParseResult{Kind: Empty, Err: fmt.Errorf("%w: empty response", ErrAlignment)}
	}

	candidate := raw
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start >= 0 && end >= 0 {
		if end < start {
			return ParseResult{Kind: RawText, Raw: raw, Err: fmt.Errorf("%w: no JSON array in response", ErrAlignment)}
		}
		candidate = raw[start : end+1]
	}

	if !gjson.Valid(candidate) {
		return ParseResult{Kind: RawText, Raw: raw, Err: fmt.Errorf("%w: response is not valid JSON", ErrAlignment)}
	}
	parsed := gjson.Parse(candidate)
	if !parsed.IsArray() {
		return ParseResult{Kind: RawText, Raw: raw, Err: fmt.Errorf("%w: expected a JSON array, got %s", ErrAlignment, parsed.Type)}
	}

	items := parsed.Array()
	entries := make([]Entry, len(items))
	for i, item := range items {
		if !item.IsObject() {
			continue
		}
		entries[i] = Entry{
			Comment:   field(item, "comment"),
			Theme:     field(item, "themes", "theme"),
			Sentiment: field(item, "sentiment"),
			Product:   field(item, "product"),
		}
	}
	return ParseResult{Kind: ParsedArray, Entries: entries, Raw: raw}
}

func field(obj gjson.Result, keys ...string) *string {
	for _, k := range keys {
		v := obj.Get(gjson.Escape(k))
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		s := v.String()
		return &s
	}
	return nil
}

// AlignStats describes how model output lined up with the input rows.
type AlignStats struct {
	Rows    int
	Entries int
	Aligned int
}

// AlignResult copies rows and assigns entry i to row i. Rows without a
// matching entry keep nil labels. The output always has len(rows) elements.
func AlignResult(res ParseResult, rows []models.FeedbackRow) ([]models.FeedbackRow, AlignStats) {
	out := make([]models.FeedbackRow, len(rows))
	copy(out, rows)
	stats := AlignStats{Rows: len(rows), Entries: len(res.Entries)}

	if res.Kind != ParsedArray {
		logger.Error("Failed to align model response, leaving rows unclassified",
			zap.String("kind", res.Kind.String()),
			zap.Error(res.Err),
			zap.Int("rows", len(rows)),
			zap.String("response_prefix", prefix(res.Raw, 200)),
		)
		return out, stats
	}

	if len(res.Entries) != len(rows) {
		logger.Warn("Model response length differs from row count",
			zap.Int("rows", len(rows)),
			zap.Int("entries", len(res.Entries)),
		)
	}

	for i := range out {
		if i >= len(res.Entries) {
			break
		}
		e := res.Entries[i]
		out[i].Theme = e.Theme
		out[i].Sentiment = e.Sentiment
		out[i].Product = e.Product
		if out[i].Classified() {
			stats.Aligned++
		}
	}
	return out, stats
}

// Align parses raw and aligns it onto rows by position.
func Align(raw string, rows []models.FeedbackRow) []models.FeedbackRow {
	out, _ := AlignResult(ParseResponse(raw), rows)
	return out
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
