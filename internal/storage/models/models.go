package models

import "time"

// FeedbackRow is one input comment and, once classified, its labels.
// Theme, Sentiment and Product stay nil when the model output did not cover the row.
type FeedbackRow struct {
	ID            int       `json:"id"`
	CommentText   string    `json:"comment_text"`
	Timestamp     time.Time `json:"timestamp"`
	Group         string    `json:"group,omitempty"`
	ProcessedText string    `json:"-"`
	Theme         *string   `json:"theme"`
	Sentiment     *string   `json:"sentiment"`
	Product       *string   `json:"product"`

	// Record holds the original cell values in Dataset.Header order.
	Record []string `json:"-"`
}

func (r FeedbackRow) Classified() bool {
	return r.Theme != nil || r.Sentiment != nil || r.Product != nil
}

// Dataset is an uploaded table in its original column and row order.
type Dataset struct {
	Header []string      `json:"header"`
	Rows   []FeedbackRow `json:"rows"`
}

// Comments returns the raw comment texts in row order.
func (d *Dataset) Comments() []string {
	out := make([]string, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.CommentText
	}
	return out
}

// ProcessedTexts returns the prompt batch in row order.
func (d *Dataset) ProcessedTexts() []string {
	out := make([]string, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.ProcessedText
	}
	return out
}

// ClassifiedCount counts rows that received at least one label.
func (d *Dataset) ClassifiedCount() int {
	n := 0
	for _, r := range d.Rows {
		if r.Classified() {
			n++
		}
	}
	return n
}

// Clone returns a copy whose rows can be replaced without touching d.
func (d *Dataset) Clone() *Dataset {
	rows := make([]FeedbackRow, len(d.Rows))
	copy(rows, d.Rows)
	header := make([]string, len(d.Header))
	copy(header, d.Header)
	return &Dataset{Header: header, Rows: rows}
}

type RunStatus string

const (
	RunClassified RunStatus = "classified"
	RunDegraded   RunStatus = "degraded"
	RunCached     RunStatus = "cached"
)

// Run is the audit record of one classification request.
type Run struct {
	ID              string    `json:"id"`
	ContentHash     string    `json:"content_hash"`
	Filename        string    `json:"filename,omitempty"`
	RowCount        int       `json:"row_count"`
	ClassifiedCount int       `json:"classified_count"`
	Status          RunStatus `json:"status"`
	Error           string    `json:"error,omitempty"`
	LatencyMS       int       `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}
