package report

import (
	"testing"
	"time"

	"github.com/voc-classifier/backend/internal/storage/models"
)

func s(v string) *string { return &v }

var now = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func sampleRows() []models.FeedbackRow {
	return []models.FeedbackRow{
		{ID: 0, Group: "retail", Timestamp: now.Add(-2 * 24 * time.Hour), Theme: s("Login/Password"), Sentiment: s("negative"), Product: s("App")},
		{ID: 1, Group: "retail", Timestamp: now.Add(-20 * 24 * time.Hour), Theme: s("Fees"), Sentiment: s("negative"), Product: s("Credit Card")},
		{ID: 2, Group: "wealth", Timestamp: now.Add(-60 * 24 * time.Hour), Theme: s("Login/Password"), Sentiment: s("positive")},
		{ID: 3, Group: "wealth", Timestamp: now.Add(-200 * 24 * time.Hour)},
	}
}

func ids(rows []models.FeedbackRow) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []int
	}{
		{"all", Filter{}, []int{0, 1, 2, 3}},
		{"theme", Filter{Theme: "Login/Password"}, []int{0, 2}},
		{"sentiment and group", Filter{Sentiment: "negative", Group: "retail"}, []int{0, 1}},
		{"product skips null", Filter{Product: "App"}, []int{0}},
		{"last week", Filter{Period: PeriodLastWeek}, []int{0}},
		{"last month", Filter{Period: PeriodLastMonth}, []int{0, 1}},
		{"last three months", Filter{Period: PeriodLastThree}, []int{0, 1, 2}},
		{"no match", Filter{Theme: "Nope"}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Apply(sampleRows(), tt.filter, now))
			if len(got) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize(sampleRows())

	if sum.Total != 4 || sum.Unclassified != 1 {
		t.Fatalf("total = %d, unclassified = %d", sum.Total, sum.Unclassified)
	}
	if len(sum.Themes) != 2 || sum.Themes[0] != (Share{Label: "Login/Password", Count: 2, Percent: 50}) {
		t.Errorf("themes = %+v", sum.Themes)
	}
	if sum.Themes[1] != (Share{Label: "Fees", Count: 1, Percent: 25}) {
		t.Errorf("themes[1] = %+v", sum.Themes[1])
	}
	if len(sum.Products) != 2 || sum.Products[0].Label != "App" {
		t.Errorf("products = %+v", sum.Products)
	}
	if len(sum.Groups) != 2 || sum.Groups[0].Count != 2 {
		t.Errorf("groups = %+v", sum.Groups)
	}

	if len(sum.Monthly) != 2 {
		t.Fatalf("monthly = %+v", sum.Monthly)
	}
	if sum.Monthly[0].Month != "2024-05" || sum.Monthly[1].Month != "2024-06" || sum.Monthly[1].Total != 2 {
		t.Errorf("monthly = %+v", sum.Monthly)
	}
	for _, m := range sum.Monthly {
		var total float64
		for _, sh := range m.Themes {
			total += sh.Percent
		}
		if total != 100 {
			t.Errorf("%s shares sum to %v", m.Month, total)
		}
	}
}

func TestSummarizeRoundsToOneDecimal(t *testing.T) {
	rows := []models.FeedbackRow{{Theme: s("A")}, {Theme: s("B")}, {Theme: s("B")}}
	sum := Summarize(rows)
	if sum.Themes[0].Percent != 66.7 || sum.Themes[1].Percent != 33.3 {
		t.Errorf("themes = %+v", sum.Themes)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil)
	if sum.Total != 0 || len(sum.Themes) != 0 || len(sum.Monthly) != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestParsePeriod(t *testing.T) {
	for in, want := range map[string]Period{"": PeriodAll, "ALL": PeriodAll, "7d": PeriodLastWeek, " 3m ": PeriodLastThree} {
		got, err := ParsePeriod(in)
		if err != nil || got != want {
			t.Errorf("ParsePeriod(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePeriod("1y"); err == nil {
		t.Error("expected error for 1y")
	}
}
