package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bookmetrics/harvester/config"
	"github.com/bookmetrics/harvester/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.CanonicalRecord
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(records []*models.CanonicalRecord) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.CanonicalRecord, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

func rawRecord(title, category, url string) *models.RawRecord {
	return &models.RawRecord{
		Stub: models.RecordStub{
			Title:        title,
			PriceText:    "£10.00",
			RatingText:   "Two",
			Availability: "In stock",
			DetailURL:    url,
		},
		Detail: &models.DetailFields{
			Description: "A short description.",
			Category:    category,
		},
		ScrapedAt: time.Unix(0, 0),
	}
}

func TestPipelineNormalizesFiltersAndCounts(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	valid := rawRecord("Clean Architecture", "Travel", "http://example.test/book/1")
	offCategory := rawRecord("Some Novel", "Fiction", "http://example.test/book/2")
	badPrice := rawRecord("Broken", "Mystery", "http://example.test/book/3")
	badPrice.Stub.PriceText = "n/a"
	noRating := rawRecord("Unrated", "Classics", "http://example.test/book/4")
	noRating.Stub.RatingText = "Meh"

	if err := p.Process(valid, offCategory, badPrice, noRating); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}

	drops := p.DropCounts()
	if drops[models.DropInvalidPrice] != 1 {
		t.Fatalf("invalid price drops = %d, want 1", drops[models.DropInvalidPrice])
	}
	if drops[models.DropMissingField] != 1 {
		t.Fatalf("missing field drops = %d, want 1", drops[models.DropMissingField])
	}

	snapshot := p.GetMetrics()
	if got := snapshot["filtered_out"].(int64); got != 1 {
		t.Fatalf("filtered out = %d, want 1", got)
	}
	if got := snapshot["processed_records"].(int64); got != 1 {
		t.Fatalf("processed = %d, want 1", got)
	}

	ds := p.Dataset()
	if len(ds.Records) != 1 || ds.Records[0].Title != "Clean Architecture" {
		t.Fatalf("dataset = %+v, want only the valid Travel record", ds.Records)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		record := rawRecord("Book", "Travel", "http://example.test/book/"+strconv.Itoa(i))
		if err := p.Process(record); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelinePreservesSubmissionOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 50; i++ {
		record := rawRecord(fmt.Sprintf("Book %03d", i), "Mystery", "http://example.test/book/"+strconv.Itoa(i))
		if err := p.Process(record); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ds := p.Dataset()
	if len(ds.Records) != 50 {
		t.Fatalf("dataset = %d records, want 50", len(ds.Records))
	}
	for i, record := range ds.Records {
		want := fmt.Sprintf("Book %03d", i)
		if record.Title != want {
			t.Fatalf("record %d = %q, want %q", i, record.Title, want)
		}
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(rawRecord("Late", "Travel", "http://example.test/late")); err != ErrPipelineClosed {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}
