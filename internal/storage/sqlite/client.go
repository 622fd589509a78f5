package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS classification_runs (
		id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		filename TEXT,
		row_count INTEGER NOT NULL,
		classified_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_hash ON classification_runs(content_hash);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON classification_runs(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// RecordRun stores the audit row for one classification request.
func (c *Client) RecordRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO classification_runs (id, content_hash, filename, row_count, classified_count,
			status, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.ContentHash,
		run.Filename,
		run.RowCount,
		run.ClassifiedCount,
		string(run.Status),
		run.Error,
		run.LatencyMS,
		run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Debug("Run recorded",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("rows", run.RowCount),
	)
	return nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT id, content_hash, filename, row_count, classified_count, status, error, latency_ms, created_at
		FROM classification_runs WHERE id = ?`

	run, err := scanRun(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `SELECT id, content_hash, filename, row_count, classified_count, status, error, latency_ms, created_at
		FROM classification_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		run       models.Run
		status    string
		filename  sql.NullString
		errText   sql.NullString
		latency   sql.NullInt64
		createdAt int64
	)
	err := s.Scan(
		&run.ID,
		&run.ContentHash,
		&filename,
		&run.RowCount,
		&run.ClassifiedCount,
		&status,
		&errText,
		&latency,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	run.Filename = filename.String
	run.Status = models.RunStatus(status)
	run.Error = errText.String
	run.LatencyMS = int(latency.Int64)
	run.CreatedAt = time.UnixMilli(createdAt)
	return &run, nil
}
