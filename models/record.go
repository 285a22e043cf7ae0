// Package models defines data structures shared across the harvester.
package models

import "time"

// RecordStub holds the fields visible on a catalog listing page for one
// book. It lives only long enough to be merged with the detail fields.
type RecordStub struct {
	Title        string
	PriceText    string
	RatingText   string
	Availability string
	DetailURL    string
}

// DetailFields holds the extra fields extracted from a book's detail page.
// ProductTable keys are kept in the casing the site uses; a key that is not
// present on the page is absent from the map, never empty.
type DetailFields struct {
	Description  string
	Category     string
	Availability string
	ProductTable map[string]string
}

// RawRecord is a listing stub merged with its detail fields. Detail is nil
// only for callers that construct records by hand; the crawler never emits
// a record whose detail fetch failed.
type RawRecord struct {
	Stub      RecordStub
	Detail    *DetailFields
	ScrapedAt time.Time
}

// AvailabilityStatus is the normalized stock state of a record.
type AvailabilityStatus string

const (
	InStock    AvailabilityStatus = "In stock"
	OutOfStock AvailabilityStatus = "Out of stock"
)

// CanonicalRecord is a fully normalized record ready for analytical use.
// StockCount is nil when the source text carried no count.
type CanonicalRecord struct {
	Title                string             `csv:"title" json:"title"`
	Description          string             `csv:"description" json:"description"`
	Category             string             `csv:"category" json:"category"`
	Price                float64            `csv:"price" json:"price"`
	Rating               int                `csv:"rating" json:"rating"`
	Availability         AvailabilityStatus `csv:"availability_status" json:"availability_status"`
	StockCount           *int               `csv:"stock_count" json:"stock_count"`
	DescriptionWordCount int                `csv:"description_word_count" json:"description_word_count"`
	URL                  string             `csv:"url" json:"url"`
}

// DropReason identifies why normalization rejected a record.
type DropReason string

const (
	DropInvalidPrice DropReason = "invalid_price"
	DropMissingField DropReason = "missing_required_field"
)

// TerminalStatus describes how a crawl ended.
type TerminalStatus string

const (
	StatusComplete    TerminalStatus = "complete"
	StatusNoData      TerminalStatus = "no_data"
	StatusFetchFailed TerminalStatus = "fetch_failed"
)

// DetailSkip records one detail page that was skipped during the crawl.
type DetailSkip struct {
	URL    string
	Reason string
}

// CrawlSummary is the operator-facing account of one crawl: what was
// fetched, what was skipped, and how the run terminated. It is always
// non-empty, even when the dataset is.
type CrawlSummary struct {
	StartTime     time.Time
	EndTime       time.Time
	PagesFetched  int
	StubsSeen     int
	RecordsMerged int
	DetailSkips   []DetailSkip
	DropCounts    map[DropReason]int
	ErrorsByType  map[string]int
	Status        TerminalStatus
	FailedPage    int
	FailedURL     string
}

// Duration returns the wall-clock time the crawl took.
func (s *CrawlSummary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
