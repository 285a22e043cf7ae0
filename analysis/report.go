package analysis

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bookmetrics/harvester/models"
	"github.com/nao1215/markdown"
)

// WriteReport renders the crawl summary and answered question set as a
// markdown document.
func (a *Analyzer) WriteReport(w io.Writer, summary *models.CrawlSummary) error {
	md := markdown.NewMarkdown(w)

	md.H1("Book Catalog Analysis")
	md.PlainText("")

	rows := [][]string{
		{"Records in dataset", strconv.Itoa(len(a.ds.Records))},
		{"Categories", strconv.Itoa(len(a.ds.Categories()))},
	}
	if summary != nil {
		rows = append(rows,
			[]string{"Pages fetched", strconv.Itoa(summary.PagesFetched)},
			[]string{"Stubs seen", strconv.Itoa(summary.StubsSeen)},
			[]string{"Records merged", strconv.Itoa(summary.RecordsMerged)},
			[]string{"Detail skips", strconv.Itoa(len(summary.DetailSkips))},
			[]string{"Terminal status", terminalStatusText(summary)},
			[]string{"Duration", summary.Duration().String()},
		)
		for reason, count := range summary.DropCounts {
			rows = append(rows, []string{"Dropped: " + string(reason), strconv.Itoa(count)})
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	writeAnswers(md, "Categorical Questions", a.Categorical())
	writeAnswers(md, "Numerical Questions", a.Numerical())
	writeAnswers(md, "Hybrid Questions", a.Hybrid())

	return md.Build()
}

// WriteReportFile writes the report to path.
func (a *Analyzer) WriteReportFile(path string, summary *models.CrawlSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := a.WriteReport(f, summary); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

func writeAnswers(md *markdown.Markdown, title string, answers []Answer) {
	md.H2(title)
	rows := make([][]string, 0, len(answers))
	for _, answer := range answers {
		rows = append(rows, []string{answer.Question, answer.Answer, answer.Justification})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Question", "Answer", "Justification"},
		Rows:   rows,
	})
	md.PlainText("")
}

func terminalStatusText(summary *models.CrawlSummary) string {
	switch summary.Status {
	case models.StatusFetchFailed:
		return fmt.Sprintf("fetch failed at page %d (%s)", summary.FailedPage, summary.FailedURL)
	case models.StatusNoData:
		return "no data"
	default:
		return "complete"
	}
}
