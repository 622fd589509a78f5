package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/voc-classifier/backend/internal/cache"
	"github.com/voc-classifier/backend/internal/ingestion"
	"github.com/voc-classifier/backend/internal/llm"
	"github.com/voc-classifier/backend/internal/metrics"
	"github.com/voc-classifier/backend/internal/preprocess"
	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/internal/themes"
	"github.com/voc-classifier/backend/pkg/logger"
	"github.com/voc-classifier/backend/pkg/utils"
)

type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (llm.Reply, error)
}

type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.Run) error
}

type Options struct {
	Encoding     ingestion.Encoding
	Preprocessor *preprocess.Preprocessor
	// Cache defaults to an in-process LRU of 32 entries.
	Cache    cache.Store
	Recorder RunRecorder
	// Timeout bounds a shared classification once it no longer follows the
	// caller's cancellation. Zero means no bound.
	Timeout time.Duration
	Now     func() time.Time
}

// Outcome is the result of one classification request.
type Outcome struct {
	RunID   string
	Key     string
	Dataset *models.Dataset
	// Classified reports whether the remote call completed.
	Classified bool
	Cached     bool
	// Err is the auth or generation failure that left the rows unclassified.
	Err error
	// Notice describes a completed call whose output could not be aligned.
	Notice string
}

type Pipeline struct {
	generator    Generator
	preprocessor *preprocess.Preprocessor
	cache        cache.Store
	recorder     RunRecorder
	encoding     ingestion.Encoding
	timeout      time.Duration
	now          func() time.Time
	group        singleflight.Group
}

func NewPipeline(generator Generator, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		generator:    generator,
		preprocessor: opts.Preprocessor,
		cache:        opts.Cache,
		recorder:     opts.Recorder,
		encoding:     opts.Encoding,
		timeout:      opts.Timeout,
		now:          opts.Now,
	}
	if p.preprocessor == nil {
		p.preprocessor = preprocess.New(nil)
	}
	if p.cache == nil {
		mem, err := cache.NewMemory(32)
		if err != nil {
			return nil, err
		}
		p.cache = mem
	}
	if p.encoding == "" {
		p.encoding = ingestion.EncodingLatin1
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Key identifies a classification by upload content and theme catalog.
func Key(content []byte, catalog *themes.Catalog) string {
	return utils.HashParts(content, []byte(catalog.Key()))
}

// Classify runs a CSV upload through the pipeline.
func (p *Pipeline) Classify(ctx context.Context, content []byte, catalog *themes.Catalog) (*Outcome, error) {
	return p.ClassifyFile(ctx, "", content, catalog)
}

// ClassifyFile is Classify for an upload whose extension selects CSV or XLSX parsing.
// Only malformed input is returned as an error; remote failures are reported in Outcome.Err.
func (p *Pipeline) ClassifyFile(ctx context.Context, filename string, content []byte, catalog *themes.Catalog) (*Outcome, error) {
	if catalog == nil {
		catalog = themes.NewCatalog()
	}
	start := p.now()
	key := Key(content, catalog)

	if entry, ok := p.cache.Get(ctx, key); ok {
		out := &Outcome{
			RunID:      uuid.New().String(),
			Key:        key,
			Dataset:    entry.Dataset.Clone(),
			Classified: true,
			Cached:     true,
			Notice:     entry.Notice,
		}
		metrics.ClassificationTotal.WithLabelValues(string(models.RunCached)).Inc()
		p.record(ctx, out, filename, models.RunCached, start)
		logger.Info("Serving memoized classification", zap.String("key", key), zap.String("run_id", out.RunID))
		return out, nil
	}

	// Callers joined on key share this run, so one of them going away must not
	// cancel it for the rest.
	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		runCtx := context.WithoutCancel(ctx)
		if p.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, p.timeout)
			defer cancel()
		}
		return p.run(runCtx, key, filename, content, catalog, start)
	})
	if err != nil {
		return nil, err
	}
	out := v.(*Outcome)
	if shared {
		logger.Debug("Joined in-flight classification", zap.String("key", key))
		cp := *out
		cp.Dataset = out.Dataset.Clone()
		out = &cp
	}
	return out, nil
}

// Lookup returns a memoized result without running the pipeline.
func (p *Pipeline) Lookup(ctx context.Context, key string) (*cache.Entry, bool) {
	return p.cache.Get(ctx, key)
}

func (p *Pipeline) run(ctx context.Context, key, filename string, content []byte, catalog *themes.Catalog, start time.Time) (*Outcome, error) {
	ds, err := ingestion.ParseFile(filename, content, ingestion.Options{Encoding: p.encoding})
	if err != nil {
		metrics.ClassificationTotal.WithLabelValues("format_error").Inc()
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}

	for i := range ds.Rows {
		ds.Rows[i].ProcessedText = p.preprocessor.Process(ds.Rows[i].CommentText)
	}

	out := &Outcome{RunID: uuid.New().String(), Key: key, Dataset: ds}

	if len(ds.Rows) == 0 {
		logger.Info("Upload has no rows, skipping generation", zap.String("key", key))
		out.Classified = true
		p.cache.Set(ctx, key, &cache.Entry{Dataset: ds.Clone()})
		metrics.ClassificationTotal.WithLabelValues(string(models.RunClassified)).Inc()
		p.record(ctx, out, filename, models.RunClassified, start)
		return out, nil
	}

	messages := BuildMessages(catalog, ds.ProcessedTexts())
	reply, err := p.generator.Generate(ctx, messages)
	if err != nil {
		logger.Error("Classification request failed, returning rows unclassified",
			zap.String("key", key),
			zap.Int("rows", len(ds.Rows)),
			zap.Error(err),
		)
		out.Err = err
		metrics.RowsProcessed.WithLabelValues("unclassified").Add(float64(len(ds.Rows)))
		metrics.ClassificationTotal.WithLabelValues(string(models.RunDegraded)).Inc()
		metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
		p.record(ctx, out, filename, models.RunDegraded, start)
		return out, nil
	}

	parsed := FromReply(reply)
	rows, stats := AlignResult(parsed, ds.Rows)
	ds.Rows = rows
	out.Classified = true
	if parsed.Err != nil {
		out.Notice = parsed.Err.Error()
	}

	p.cache.Set(ctx, key, &cache.Entry{Dataset: ds.Clone(), Notice: out.Notice})

	metrics.RowsProcessed.WithLabelValues("classified").Add(float64(stats.Aligned))
	metrics.RowsProcessed.WithLabelValues("unclassified").Add(float64(stats.Rows - stats.Aligned))
	metrics.ClassificationTotal.WithLabelValues(string(models.RunClassified)).Inc()
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())

	logger.Info("Classification completed",
		zap.String("key", key),
		zap.String("run_id", out.RunID),
		zap.Int("rows", stats.Rows),
		zap.Int("entries", stats.Entries),
		zap.Int("aligned", stats.Aligned),
	)

	p.record(ctx, out, filename, models.RunClassified, start)
	return out, nil
}

func (p *Pipeline) record(ctx context.Context, out *Outcome, filename string, status models.RunStatus, start time.Time) {
	if p.recorder == nil {
		return
	}
	run := &models.Run{
		ID:              out.RunID,
		ContentHash:     out.Key,
		Filename:        filename,
		RowCount:        len(out.Dataset.Rows),
		ClassifiedCount: out.Dataset.ClassifiedCount(),
		Status:          status,
		LatencyMS:       int(p.now().Sub(start).Milliseconds()),
		CreatedAt:       start,
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	} else if out.Notice != "" {
		run.Error = out.Notice
	}
	if err := p.recorder.RecordRun(ctx, run); err != nil {
		logger.Warn("Failed to record run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
