// Package pipeline coordinates normalization, category filtering, and
// output writing for crawled records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bookmetrics/harvester/config"
	"github.com/bookmetrics/harvester/dataset"
	"github.com/bookmetrics/harvester/models"
	"github.com/bookmetrics/harvester/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.CanonicalRecord) error
	Close() error
	Validate() error
}

// Pipeline normalizes raw records, applies the category allow-list, batches
// canonical records to the writer, and accumulates the in-memory dataset.
// Records flow through in submission order; run with a single worker when
// the output table must match crawl order exactly.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	recordCh  chan *models.RawRecord
	batchSize int

	wg sync.WaitGroup

	builderMu sync.Mutex
	builder   *dataset.Builder

	metrics *metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with buffering and batching from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		recordCh:  make(chan *models.RawRecord, cfg.PipelineBufferSize),
		batchSize: cfg.BatchSize,
		builder:   dataset.NewBuilder(cfg.Categories),
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues raw records for normalization and writing.
func (p *Pipeline) Process(records ...*models.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if record == nil {
			continue
		}
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	p.wg.Wait()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Dataset returns the accumulated, filtered table. Call after Close.
func (p *Pipeline) Dataset() *dataset.Dataset {
	p.builderMu.Lock()
	defer p.builderMu.Unlock()
	return p.builder.Build()
}

// DropCounts returns how many records each normalization reason rejected.
func (p *Pipeline) DropCounts() map[models.DropReason]int {
	return p.metrics.dropSnapshot()
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snapshot := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed", snapshot["processed_records"].(int64)),
					slog.Int64("filtered_out", snapshot["filtered_out"].(int64)),
					slog.Any("drops", snapshot["dropped_records"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.CanonicalRecord, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for record := range p.recordCh {
		prepared := p.prepare(record)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

// prepare runs one record through normalization and the category filter.
// Normalization failures never stop the pipeline; they are counted, logged
// with the record's URL, and the record is gone.
func (p *Pipeline) prepare(raw *models.RawRecord) *models.CanonicalRecord {
	record, err := parser.Normalize(raw)
	if err != nil {
		var drop *parser.DropError
		if errors.As(err, &drop) {
			p.metrics.addDrop(drop.Reason)
			slog.Warn("record dropped",
				slog.String("reason", string(drop.Reason)),
				slog.String("url", drop.URL),
				slog.Any("error", drop.Err),
			)
		} else {
			p.metrics.addDrop(models.DropMissingField)
			slog.Warn("record dropped", slog.Any("error", err))
		}
		return nil
	}

	p.builderMu.Lock()
	kept := p.builder.Add(record)
	p.builderMu.Unlock()
	if !kept {
		p.metrics.incrementFiltered()
		return nil
	}

	p.metrics.incrementProcessed()
	return record
}

func (p *Pipeline) enqueue(record *models.RawRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return ErrPipelineClosed
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	processed int64
	filtered  int64
	drops     map[models.DropReason]int
}

func newMetrics() *metrics {
	return &metrics{
		drops: make(map[models.DropReason]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incrementFiltered() {
	m.mu.Lock()
	m.filtered++
	m.mu.Unlock()
}

func (m *metrics) addDrop(reason models.DropReason) {
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

func (m *metrics) dropSnapshot() map[models.DropReason]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.DropReason]int, len(m.drops))
	for k, v := range m.drops {
		out[k] = v
	}
	return out
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	drops := make(map[string]int, len(m.drops))
	for k, v := range m.drops {
		drops[string(k)] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"filtered_out":      m.filtered,
		"dropped_records":   drops,
	}
}
