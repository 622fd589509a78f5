// Package report filters classified rows and aggregates label shares for
// dashboard consumers.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/voc-classifier/backend/internal/storage/models"
)

type Period string

const (
	PeriodAll       Period = "all"
	PeriodLastWeek  Period = "7d"
	PeriodLastMonth Period = "1m"
	PeriodLastThree Period = "3m"
)

var periodWindow = map[Period]time.Duration{
	PeriodLastWeek:  7 * 24 * time.Hour,
	PeriodLastMonth: 30 * 24 * time.Hour,
	PeriodLastThree: 90 * 24 * time.Hour,
}

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PeriodAll:
		return PeriodAll, nil
	case PeriodLastWeek, PeriodLastMonth, PeriodLastThree:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q, expected one of all, 7d, 1m, 3m", s)
	}
}

// Filter selects rows. Empty fields match everything. A label filter never
// matches a row whose label is null.
type Filter struct {
	Theme     string
	Group     string
	Sentiment string
	Product   string
	Period    Period
}

func (f Filter) matches(r models.FeedbackRow, now time.Time) bool {
	if !labelMatches(f.Theme, r.Theme) || !labelMatches(f.Sentiment, r.Sentiment) || !labelMatches(f.Product, r.Product) {
		return false
	}
	if f.Group != "" && r.Group != f.Group {
		return false
	}
	if window, ok := periodWindow[f.Period]; ok {
		if r.Timestamp.IsZero() || r.Timestamp.Before(now.Add(-window)) {
			return false
		}
	}
	return true
}

func labelMatches(want string, got *string) bool {
	return want == "" || (got != nil && *got == want)
}

// Apply returns the rows matching f in their original order.
func Apply(rows []models.FeedbackRow, f Filter, now time.Time) []models.FeedbackRow {
	out := make([]models.FeedbackRow, 0, len(rows))
	for _, r := range rows {
		if f.matches(r, now) {
			out = append(out, r)
		}
	}
	return out
}

type Share struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type MonthShare struct {
	Month  string  `json:"month"`
	Total  int     `json:"total"`
	Themes []Share `json:"themes"`
}

type Summary struct {
	Total        int          `json:"total"`
	Unclassified int          `json:"unclassified"`
	Themes       []Share      `json:"themes"`
	Sentiments   []Share      `json:"sentiments"`
	Products     []Share      `json:"products"`
	Groups       []Share      `json:"groups"`
	Monthly      []MonthShare `json:"monthly"`
}

// Summarize counts labels over rows. Percentages use the row total as the
// denominator, so unlabelled rows lower every share. Monthly theme shares
// are relative to the labelled rows of that month.
func Summarize(rows []models.FeedbackRow) Summary {
	s := Summary{Total: len(rows)}

	themes := map[string]int{}
	sentiments := map[string]int{}
	products := map[string]int{}
	groups := map[string]int{}
	monthly := map[string]map[string]int{}

	for _, r := range rows {
		if !r.Classified() {
			s.Unclassified++
		}
		count(themes, r.Theme)
		count(sentiments, r.Sentiment)
		count(products, r.Product)
		if r.Group != "" {
			groups[r.Group]++
		}
		if r.Theme != nil && !r.Timestamp.IsZero() {
			month := r.Timestamp.Format("2006-01")
			if monthly[month] == nil {
				monthly[month] = map[string]int{}
			}
			monthly[month][*r.Theme]++
		}
	}

	s.Themes = shares(themes, s.Total)
	s.Sentiments = shares(sentiments, s.Total)
	s.Products = shares(products, s.Total)
	s.Groups = shares(groups, s.Total)

	months := make([]string, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Strings(months)
	s.Monthly = make([]MonthShare, 0, len(months))
	for _, m := range months {
		total := 0
		for _, n := range monthly[m] {
			total += n
		}
		s.Monthly = append(s.Monthly, MonthShare{Month: m, Total: total, Themes: shares(monthly[m], total)})
	}
	return s
}

func count(m map[string]int, label *string) {
	if label != nil {
		m[*label]++
	}
}

// shares orders by count, then label, with percentages rounded to one decimal.
func shares(counts map[string]int, total int) []Share {
	out := make([]Share, 0, len(counts))
	for label, n := range counts {
		out = append(out, Share{Label: label, Count: n, Percent: percent(n, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
