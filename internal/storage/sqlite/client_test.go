package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/voc-classifier/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "runs", "voc.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.InitSchema(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRecordAndGetRun(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := &models.Run{
		ID:              "run-1",
		ContentHash:     "abc",
		Filename:        "feedback.csv",
		RowCount:        3,
		ClassifiedCount: 2,
		Status:          models.RunDegraded,
		Error:           "boom",
		LatencyMS:       120,
		CreatedAt:       created,
	}
	if err := c.RecordRun(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentHash != "abc" || got.Filename != "feedback.csv" || got.Status != models.RunDegraded {
		t.Errorf("GetRun() = %+v", got)
	}
	if got.RowCount != 3 || got.ClassifiedCount != 2 || got.LatencyMS != 120 || got.Error != "boom" {
		t.Errorf("GetRun() counts = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	if err := c.RecordRun(ctx, in); err == nil {
		t.Error("expected duplicate id to fail")
	}
}

func TestGetRunMissing(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetRun(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		err := c.RecordRun(ctx, &models.Run{
			ID:          id,
			ContentHash: "h",
			Status:      models.RunClassified,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	runs, err := c.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("ListRuns() = %+v", runs)
	}
}
