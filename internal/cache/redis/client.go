package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/cache"
	"github.com/voc-classifier/backend/internal/metrics"
	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/pkg/logger"
)

const keyPrefix = "voc:result:"

// Client is the shared result tier. It implements cache.Store.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(ctx context.Context, host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Get(ctx context.Context, key string) (*cache.Entry, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	if err != nil {
		logger.Warn("Failed to read cached result", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}

	entry, err := decodeEntry(data)
	if err != nil {
		logger.Warn("Discarding unreadable cached result", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	logger.Debug("Result cache hit", zap.String("key", key))
	return entry, true
}

func (c *Client) Set(ctx context.Context, key string, entry *cache.Entry) {
	data, err := encodeEntry(entry)
	if err != nil {
		logger.Warn("Failed to encode result", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		logger.Warn("Failed to cache result", zap.String("key", key), zap.Error(err))
		return
	}

	logger.Debug("Result cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
}

// storedRow carries the fields FeedbackRow hides from the API. Label pointers
// keep null distinct from "".
type storedRow struct {
	models.FeedbackRow
	ProcessedText string   `json:"processed_text"`
	Record        []string `json:"record"`
}

type storedEntry struct {
	Header []string    `json:"header"`
	Rows   []storedRow `json:"rows"`
	Notice string      `json:"notice,omitempty"`
}

func encodeEntry(e *cache.Entry) ([]byte, error) {
	se := storedEntry{Notice: e.Notice}
	if e.Dataset != nil {
		se.Header = e.Dataset.Header
		se.Rows = make([]storedRow, len(e.Dataset.Rows))
		for i, row := range e.Dataset.Rows {
			se.Rows[i] = storedRow{FeedbackRow: row, ProcessedText: row.ProcessedText, Record: row.Record}
		}
	}
	return json.Marshal(se)
}

func decodeEntry(data []byte) (*cache.Entry, error) {
	var se storedEntry
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	ds := &models.Dataset{Header: se.Header, Rows: make([]models.FeedbackRow, len(se.Rows))}
	for i, sr := range se.Rows {
		row := sr.FeedbackRow
		row.ProcessedText = sr.ProcessedText
		row.Record = sr.Record
		ds.Rows[i] = row
	}
	return &cache.Entry{Dataset: ds, Notice: se.Notice}, nil
}
