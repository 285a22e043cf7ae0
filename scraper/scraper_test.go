package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bookmetrics/harvester/config"
	"github.com/bookmetrics/harvester/models"
	"github.com/bookmetrics/harvester/pipeline"
	"github.com/jarcoal/httpmock"
)

type collectingSink struct {
	mu      sync.Mutex
	records []*models.RawRecord
}

func (cs *collectingSink) Process(records ...*models.RawRecord) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.records = append(cs.records, records...)
	return nil
}

func (cs *collectingSink) All() []*models.RawRecord {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*models.RawRecord, len(cs.records))
	copy(out, cs.records)
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test"
	cfg.MaxPages = 10
	cfg.Parallelism = 4
	cfg.Delay = 0
	return cfg
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildListingPage(page, count int, hasNext bool) string {
	var builder strings.Builder
	builder.WriteString("<html><body><section>")

	for i := 1; i <= count; i++ {
		id := (page-1)*count + i
		fmt.Fprintf(&builder, "<article class=\"product_pod\">")
		fmt.Fprintf(&builder, "<p class=\"star-rating Two\"></p>")
		fmt.Fprintf(&builder, "<h3><a href=\"book-%d/index.html\" title=\"Book %d\">Book %d</a></h3>", id, id, id)
		fmt.Fprintf(&builder, "<p class=\"price_color\">£%d.00</p>", id)
		builder.WriteString("<p class=\"instock availability\">In stock</p>")
		builder.WriteString("</article>")
	}

	if hasNext {
		fmt.Fprintf(&builder, "<li class=\"next\"><a href=\"page-%d.html\">next</a></li>", page+1)
	}

	builder.WriteString("</section></body></html>")
	return builder.String()
}

func buildDetailPage(category, description, availability string) string {
	var builder strings.Builder
	builder.WriteString("<html><body><ul class=\"breadcrumb\">")
	builder.WriteString("<li>Home</li><li>Books</li>")
	fmt.Fprintf(&builder, "<li>%s</li><li class=\"active\">x</li></ul>", category)
	if description != "" {
		builder.WriteString("<div id=\"product_description\"><h2>Product Description</h2></div>")
		fmt.Fprintf(&builder, "<p>%s</p>", description)
	}
	builder.WriteString("<table class=\"table table-striped\">")
	builder.WriteString("<tr><th>Price (incl. tax)</th><td>£20.00</td></tr>")
	fmt.Fprintf(&builder, "<tr><th>Availability</th><td>%s</td></tr>", availability)
	builder.WriteString("</table></body></html>")
	return builder.String()
}

func registerCatalog(t *testing.T, transport *httpmock.MockTransport, pages, perPage int) {
	t.Helper()
	for page := 1; page <= pages; page++ {
		url := fmt.Sprintf("http://example.test/catalogue/page-%d.html", page)
		transport.RegisterResponder("GET", url, htmlResponder(buildListingPage(page, perPage, page < pages)))
		for i := 1; i <= perPage; i++ {
			id := (page-1)*perPage + i
			detailURL := fmt.Sprintf("http://example.test/catalogue/book-%d/index.html", id)
			transport.RegisterResponder("GET", detailURL,
				htmlResponder(buildDetailPage("Travel", "A great book about travel.", "In stock (22 available)")))
		}
	}
}

func newTestScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Scraper {
	t.Helper()
	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.WithTransport(transport)
	return s
}

func TestScraperCrawlsWholeCatalog(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	registerCatalog(t, transport, 2, 3)

	s := newTestScraper(t, cfg, transport)
	sink := &collectingSink{}

	summary, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Status != models.StatusComplete {
		t.Fatalf("status = %q, want complete", summary.Status)
	}
	if summary.PagesFetched != 2 {
		t.Fatalf("pages = %d, want 2", summary.PagesFetched)
	}
	if summary.StubsSeen != 6 || summary.RecordsMerged != 6 {
		t.Fatalf("stubs/merged = %d/%d, want 6/6", summary.StubsSeen, summary.RecordsMerged)
	}

	records := sink.All()
	if len(records) != 6 {
		t.Fatalf("records = %d, want 6", len(records))
	}
	for i, record := range records {
		want := fmt.Sprintf("Book %d", i+1)
		if record.Stub.Title != want {
			t.Fatalf("record %d title = %q, want %q (order must follow the listing)", i, record.Stub.Title, want)
		}
		if record.Detail == nil {
			t.Fatalf("record %d missing detail fields", i)
		}
		if record.Detail.Category != "Travel" {
			t.Fatalf("record %d category = %q", i, record.Detail.Category)
		}
		if record.Detail.ProductTable["Price (incl. tax)"] != "£20.00" {
			t.Fatalf("record %d product table = %v", i, record.Detail.ProductTable)
		}
	}
}

func TestScraperListingFailureKeepsPartialResults(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()

	// Pages 1-2 succeed and page 2 points at page 3, which has no
	// responder and fails at the transport.
	for page := 1; page <= 2; page++ {
		url := fmt.Sprintf("http://example.test/catalogue/page-%d.html", page)
		transport.RegisterResponder("GET", url, htmlResponder(buildListingPage(page, 2, true)))
	}
	for id := 1; id <= 4; id++ {
		detailURL := fmt.Sprintf("http://example.test/catalogue/book-%d/index.html", id)
		transport.RegisterResponder("GET", detailURL,
			htmlResponder(buildDetailPage("Mystery", "Whodunit.", "In stock")))
	}

	s := newTestScraper(t, cfg, transport)
	sink := &collectingSink{}

	summary, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Status != models.StatusFetchFailed {
		t.Fatalf("status = %q, want fetch_failed", summary.Status)
	}
	if summary.FailedPage != 3 {
		t.Fatalf("failed page = %d, want 3", summary.FailedPage)
	}
	if !strings.Contains(summary.FailedURL, "page-3.html") {
		t.Fatalf("failed url = %q, want page-3", summary.FailedURL)
	}
	if summary.PagesFetched != 2 {
		t.Fatalf("pages fetched = %d, want 2", summary.PagesFetched)
	}
	if got := len(sink.All()); got != 4 {
		t.Fatalf("records = %d, want the 4 merged before the failure", got)
	}
}

func TestScraperDetailFailureSkipsSingleRecord(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()

	transport.RegisterResponder("GET", "http://example.test/catalogue/page-1.html",
		htmlResponder(buildListingPage(1, 3, false)))
	for _, id := range []int{1, 3} {
		detailURL := fmt.Sprintf("http://example.test/catalogue/book-%d/index.html", id)
		transport.RegisterResponder("GET", detailURL,
			htmlResponder(buildDetailPage("Classics", "Old favorite.", "In stock (5 available)")))
	}
	transport.RegisterResponder("GET", "http://example.test/catalogue/book-2/index.html",
		httpmock.NewStringResponder(404, "gone"))

	s := newTestScraper(t, cfg, transport)
	sink := &collectingSink{}

	summary, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Status != models.StatusComplete {
		t.Fatalf("status = %q, want complete", summary.Status)
	}
	records := sink.All()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (the failed detail must not become a row)", len(records))
	}
	if records[0].Stub.Title != "Book 1" || records[1].Stub.Title != "Book 3" {
		t.Fatalf("titles = %q, %q; want Book 1, Book 3", records[0].Stub.Title, records[1].Stub.Title)
	}
	if len(summary.DetailSkips) != 1 {
		t.Fatalf("skips = %d, want 1", len(summary.DetailSkips))
	}
	if !strings.Contains(summary.DetailSkips[0].URL, "book-2") {
		t.Fatalf("skip url = %q, want book-2", summary.DetailSkips[0].URL)
	}
	if summary.ErrorsByType["not_found"] == 0 {
		t.Fatalf("expected a not_found error count, got %v", summary.ErrorsByType)
	}
}

func TestScraperEmptyFirstPageReportsNoData(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/catalogue/page-1.html",
		htmlResponder("<html><body><section></section></body></html>"))

	s := newTestScraper(t, cfg, transport)
	sink := &collectingSink{}

	summary, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Status != models.StatusNoData {
		t.Fatalf("status = %q, want no_data (distinct from fetch failure)", summary.Status)
	}
	if summary.PagesFetched != 1 {
		t.Fatalf("pages fetched = %d, want 1", summary.PagesFetched)
	}
	if len(sink.All()) != 0 {
		t.Fatalf("records = %d, want 0", len(sink.All()))
	}
}

func TestScraperNoDataDrainsThroughJSONPipeline(t *testing.T) {
	cfg := testConfig()
	cfg.OutputFile = filepath.Join(t.TempDir(), "books.json")
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/catalogue/page-1.html",
		htmlResponder("<html><body><section></section></body></html>"))

	writer, err := pipeline.NewJSONWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new json writer: %v", err)
	}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(cfg.PipelineWorkers)

	s := newTestScraper(t, cfg, transport)
	summary, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Status != models.StatusNoData {
		t.Fatalf("status = %q, want no_data", summary.Status)
	}

	// The zero-record outcome must still shut down cleanly so the
	// summary reaches the operator; only validation may complain.
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validation error on empty output")
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	data, err := os.ReadFile(cfg.OutputFile)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("output = %q, want empty", data)
	}
}

func TestScraperCanceledContextRecordsSkips(t *testing.T) {
	cfg := testConfig()
	s := newTestScraper(t, cfg, httpmock.NewMockTransport())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stubs := []models.RecordStub{
		{Title: "Book 1", DetailURL: "http://example.test/catalogue/book-1/index.html"},
		{Title: "Book 2", DetailURL: "http://example.test/catalogue/book-2/index.html"},
	}
	records, skips := s.fetchDetails(ctx, stubs)

	if len(records) != 0 {
		t.Fatalf("records = %d, want 0", len(records))
	}
	if len(skips) != len(stubs) {
		t.Fatalf("skips = %d, want %d (every stub accounted for)", len(skips), len(stubs))
	}
	for i, skip := range skips {
		if skip.URL != stubs[i].DetailURL {
			t.Fatalf("skip %d url = %q, want %q", i, skip.URL, stubs[i].DetailURL)
		}
	}
	if errs := s.snapshotErrors(); errs["canceled"] != len(stubs) {
		t.Fatalf("canceled errors = %d, want %d", errs["canceled"], len(stubs))
	}
}

func TestScraperHonorsPageCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	transport := httpmock.NewMockTransport()
	registerCatalog(t, transport, 5, 1)

	s := newTestScraper(t, cfg, transport)
	sink := &collectingSink{}

	summary, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.PagesFetched != 2 {
		t.Fatalf("pages fetched = %d, want cap of 2", summary.PagesFetched)
	}
	if summary.Status != models.StatusComplete {
		t.Fatalf("status = %q, want complete", summary.Status)
	}
}

func TestScraperDeterministicAcrossRuns(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	registerCatalog(t, transport, 2, 4)

	var runs [][]*models.RawRecord
	for i := 0; i < 2; i++ {
		s := newTestScraper(t, cfg, transport)
		sink := &collectingSink{}
		if _, err := s.Run(context.Background(), sink); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		runs = append(runs, sink.All())
	}

	if len(runs[0]) != len(runs[1]) {
		t.Fatalf("run lengths differ: %d vs %d", len(runs[0]), len(runs[1]))
	}
	for i := range runs[0] {
		if runs[0][i].Stub != runs[1][i].Stub {
			t.Fatalf("record %d differs across runs: %+v vs %+v", i, runs[0][i].Stub, runs[1][i].Stub)
		}
	}
}
