package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/metrics"
	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/pkg/logger"
)

// Entry is a memoized classification result.
type Entry struct {
	Dataset *models.Dataset
	// Notice is set when the remote call succeeded but its output could not
	// be aligned to the rows.
	Notice string
}

// Store is a keyed result cache. Implementations must be safe for concurrent use.
// A failing backend reports a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, entry *Entry)
}

// Memory is a fixed-capacity LRU held in process.
type Memory struct {
	lru *lru.Cache[string, *Entry]
}

func NewMemory(size int) (*Memory, error) {
	c, err := lru.NewWithEvict[string, *Entry](size, func(key string, _ *Entry) {
		logger.Debug("Evicted cached result", zap.String("key", key))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &Memory{lru: c}, nil
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, bool) {
	e, ok := m.lru.Get(key)
	if ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
	}
	return e, ok
}

func (m *Memory) Set(_ context.Context, key string, entry *Entry) {
	m.lru.Add(key, entry)
}

func (m *Memory) Len() int {
	return m.lru.Len()
}

// Tiered checks stores in order and copies a hit back into the faster tiers.
type Tiered struct {
	tiers []Store
}

func NewTiered(tiers ...Store) *Tiered {
	var kept []Store
	for _, t := range tiers {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &Tiered{tiers: kept}
}

func (t *Tiered) Get(ctx context.Context, key string) (*Entry, bool) {
	for i, tier := range t.tiers {
		e, ok := tier.Get(ctx, key)
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			t.tiers[j].Set(ctx, key, e)
		}
		return e, true
	}
	return nil, false
}

func (t *Tiered) Set(ctx context.Context, key string, entry *Entry) {
	for _, tier := range t.tiers {
		tier.Set(ctx, key, entry)
	}
}
