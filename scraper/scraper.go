// Package scraper drives the paginated catalog crawl.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bookmetrics/harvester/config"
	"github.com/bookmetrics/harvester/models"
	"github.com/bookmetrics/harvester/parser"
	"github.com/gocolly/colly/v2"
)

// RecordSink consumes merged raw records in crawl order.
type RecordSink interface {
	Process(records ...*models.RawRecord) error
}

// Scraper crawls listing pages sequentially and fans detail fetches out
// over an async collector, joining each page before the politeness delay.
type Scraper struct {
	cfg     *config.Config
	listing *colly.Collector
	detail  *colly.Collector
	Metrics *Metrics

	requestCount int64

	mu           sync.Mutex
	errorsByType map[string]int

	// Listing state is written only from the synchronous listing
	// collector's handlers, one Visit at a time.
	listingStubs   []models.RecordStub
	listingHasMore bool
	listingErr     error

	// Detail state for the page in flight; the detail collector is async.
	pageMu      sync.Mutex
	pageDetails []*models.DetailFields
	pageSkips   []models.DetailSkip

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	listing := newCollector(cfg, parsed.Host, false)
	detail := newCollector(cfg, parsed.Host, true)

	if err := detail.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		listing:      listing,
		detail:       detail,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	return s, nil
}

func newCollector(cfg *config.Config, host string, async bool) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.AllowedDomains(host),
		colly.UserAgent(cfg.UserAgent),
		// Duplicate detail links across pages are fetched again, not
		// collapsed; the dataset keeps both copies.
		colly.AllowURLRevisit(),
	}
	if async {
		opts = append(opts, colly.Async(true))
	}

	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	return c
}

// WithTransport swaps the HTTP transport on both collectors. Tests use it
// to inject a mock transport.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.listing.WithTransport(rt)
	s.detail.WithTransport(rt)
}

// Run crawls the catalog and streams merged records into sink. The crawl
// ends at the natural end of the catalog, at the page cap, or at the first
// listing-page failure; whatever was accumulated before a failure is kept
// and the summary names the failure point. Run itself only errors on
// misuse, never on crawl failures.
func (s *Scraper) Run(ctx context.Context, sink RecordSink) (*models.CrawlSummary, error) {
	if sink == nil {
		return nil, fmt.Errorf("record sink is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.configureHandlers()

	summary := &models.CrawlSummary{
		StartTime:  time.Now(),
		Status:     models.StatusComplete,
		DropCounts: make(map[models.DropReason]int),
	}

	for page := 1; page <= s.cfg.MaxPages; page++ {
		if page > 1 {
			select {
			case <-time.After(s.cfg.Delay):
			case <-ctx.Done():
				slog.Info("crawl interrupted", slog.Int("page", page))
				s.finish(summary)
				return summary, nil
			}
		}

		pageURL := s.cfg.ListingURL(page)
		s.listingStubs = nil
		s.listingHasMore = false
		s.listingErr = nil

		visitErr := s.listing.Visit(pageURL)
		if s.listingErr == nil && visitErr != nil {
			s.listingErr = &FetchError{URL: pageURL, Err: visitErr}
		}
		if s.listingErr != nil {
			slog.Error("listing page failed, stopping crawl",
				slog.Int("page", page),
				slog.String("url", pageURL),
				slog.Any("error", s.listingErr),
			)
			summary.Status = models.StatusFetchFailed
			summary.FailedPage = page
			summary.FailedURL = pageURL
			break
		}

		summary.PagesFetched++
		s.Metrics.IncPage()

		stubs := s.listingStubs
		if len(stubs) == 0 {
			// End of catalog. An empty first page is a distinct
			// outcome: the crawl worked but found nothing.
			if page == 1 {
				summary.Status = models.StatusNoData
			}
			break
		}
		summary.StubsSeen += len(stubs)
		s.Metrics.AddStubs(len(stubs))

		records, skips := s.fetchDetails(ctx, stubs)
		summary.DetailSkips = append(summary.DetailSkips, skips...)
		summary.RecordsMerged += len(records)
		s.Metrics.AddMerged(len(records))

		if err := sink.Process(records...); err != nil {
			return nil, fmt.Errorf("process page %d records: %w", page, err)
		}

		slog.Debug("listing page done",
			slog.Int("page", page),
			slog.Int("stubs", len(stubs)),
			slog.Int("merged", len(records)),
			slog.Int("skipped", len(skips)),
		)

		if !s.listingHasMore {
			break
		}
	}

	s.finish(summary)
	return summary, nil
}

func (s *Scraper) finish(summary *models.CrawlSummary) {
	summary.EndTime = time.Now()
	summary.ErrorsByType = s.snapshotErrors()
}

// fetchDetails dispatches every stub's detail fetch on the async collector
// and joins before merging. Results are merged in stub order so the crawl
// output is deterministic regardless of fetch completion order.
func (s *Scraper) fetchDetails(ctx context.Context, stubs []models.RecordStub) ([]*models.RawRecord, []models.DetailSkip) {
	s.pageMu.Lock()
	s.pageDetails = make([]*models.DetailFields, len(stubs))
	s.pageSkips = nil
	s.pageMu.Unlock()

	for i, stub := range stubs {
		if err := ctx.Err(); err != nil {
			// Stubs that never got dispatched still belong in the
			// skip log; the summary must account for every stub.
			s.recordSkip(stub.DetailURL, err)
			continue
		}
		rctx := colly.NewContext()
		rctx.Put("index", i)
		if err := s.detail.Request(http.MethodGet, stub.DetailURL, nil, rctx, nil); err != nil {
			s.recordSkip(stub.DetailURL, err)
		}
	}
	s.detail.Wait()

	now := time.Now()
	s.pageMu.Lock()
	defer s.pageMu.Unlock()

	records := make([]*models.RawRecord, 0, len(stubs))
	for i, stub := range stubs {
		detail := s.pageDetails[i]
		if detail == nil {
			// Failed detail fetches produce no record at all; they
			// live only in the skip log.
			continue
		}
		records = append(records, &models.RawRecord{
			Stub:      stub,
			Detail:    detail,
			ScrapedAt: now,
		})
	}
	return records, s.pageSkips
}

func (s *Scraper) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.instrument(s.listing, "listing")
		s.instrument(s.detail, "detail")

		s.listing.OnResponse(func(r *colly.Response) {
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
			if err != nil {
				s.listingErr = &ParseError{URL: r.Request.URL.String(), Err: err}
				s.countError(errorTypeLabel(s.listingErr))
				return
			}
			s.listingStubs, s.listingHasMore = parser.ParseListing(doc, r.Request.URL)
		})

		s.listing.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			pageURL := ""
			if r != nil {
				statusCode = r.StatusCode
				if r.Request != nil && r.Request.URL != nil {
					pageURL = r.Request.URL.String()
				}
			}
			classified := classifyError(err, statusCode)
			s.countError(errorTypeLabel(classified))
			s.listingErr = &FetchError{URL: pageURL, Err: classified}
		})

		s.detail.OnResponse(func(r *colly.Response) {
			index, ok := r.Request.Ctx.GetAny("index").(int)
			if !ok {
				return
			}
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
			if err != nil {
				s.recordSkip(r.Request.URL.String(), &ParseError{URL: r.Request.URL.String(), Err: err})
				return
			}
			detail := parser.ParseDetail(doc)

			s.pageMu.Lock()
			if index >= 0 && index < len(s.pageDetails) {
				s.pageDetails[index] = detail
			}
			s.pageMu.Unlock()
		})

		s.detail.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			detailURL := ""
			if r != nil {
				statusCode = r.StatusCode
				if r.Request != nil && r.Request.URL != nil {
					detailURL = r.Request.URL.String()
				}
			}
			s.recordSkip(detailURL, classifyError(err, statusCode))
		})
	})
}

func (s *Scraper) instrument(c *colly.Collector, phase string) {
	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		current := atomic.AddInt64(&s.requestCount, 1)
		s.Metrics.IncRequest(phase)
		if current%50 == 0 {
			slog.Debug("crawler request progress",
				slog.Int64("requests", current),
				slog.String("url", r.URL.String()),
			)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration(time.Since(start))
		}
	})
}

// recordSkip logs and records a single skipped detail record.
func (s *Scraper) recordSkip(url string, cause error) {
	label := errorTypeLabel(cause)
	s.countError(label)
	s.Metrics.IncDetailSkip()

	slog.Warn("detail page skipped",
		slog.String("url", url),
		slog.String("category", label),
		slog.Any("error", cause),
	)

	s.pageMu.Lock()
	s.pageSkips = append(s.pageSkips, models.DetailSkip{URL: url, Reason: cause.Error()})
	s.pageMu.Unlock()
}

func (s *Scraper) countError(label string) {
	s.mu.Lock()
	s.errorsByType[label]++
	s.mu.Unlock()
	s.Metrics.IncError(label)
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
