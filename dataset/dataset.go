// Package dataset filters normalized records into the final analysis table.
package dataset

import (
	"log/slog"
	"strings"

	"github.com/bookmetrics/harvester/models"
)

// Header is the column set of the persisted dataset.
var Header = []string{
	"title",
	"description",
	"category",
	"price",
	"rating",
	"availability_status",
	"stock_count",
	"description_word_count",
	"url",
}

// Dataset is the ordered, immutable output table of one scrape.
type Dataset struct {
	Records []*models.CanonicalRecord
}

// Categories returns the distinct categories present, in first-seen order.
func (d *Dataset) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, record := range d.Records {
		if _, ok := seen[record.Category]; ok {
			continue
		}
		seen[record.Category] = struct{}{}
		out = append(out, record.Category)
	}
	return out
}

// Builder accumulates canonical records that pass the category allow-list.
// The filter is a stable pass over the input: order is preserved and
// duplicates are kept as-is.
type Builder struct {
	allowed map[string]struct{}
	lowered map[string]string
	records []*models.CanonicalRecord
}

// NewBuilder returns a builder filtering to the given categories with
// exact, case-sensitive matching.
func NewBuilder(categories []string) *Builder {
	allowed := make(map[string]struct{}, len(categories))
	lowered := make(map[string]string, len(categories))
	for _, category := range categories {
		allowed[category] = struct{}{}
		lowered[strings.ToLower(category)] = category
	}
	return &Builder{allowed: allowed, lowered: lowered}
}

// Add appends the record if its category is allowed and reports whether it
// was kept. A category that matches the allow-list only when case is
// ignored is still excluded, but loudly: the divergence is worth an
// operator's attention.
func (b *Builder) Add(record *models.CanonicalRecord) bool {
	if record == nil {
		return false
	}
	if _, ok := b.allowed[record.Category]; !ok {
		if canonical, near := b.lowered[strings.ToLower(record.Category)]; near {
			slog.Warn("category excluded on casing mismatch",
				slog.String("got", record.Category),
				slog.String("allow_list_has", canonical),
				slog.String("title", record.Title),
			)
		}
		return false
	}
	b.records = append(b.records, record)
	return true
}

// Len returns the number of records kept so far.
func (b *Builder) Len() int {
	return len(b.records)
}

// Build returns the accumulated dataset.
func (b *Builder) Build() *Dataset {
	return &Dataset{Records: b.records}
}

// Build filters a record sequence in one pass. It is the batch counterpart
// of feeding a Builder record by record.
func Build(records []*models.CanonicalRecord, categories []string) *Dataset {
	builder := NewBuilder(categories)
	for _, record := range records {
		builder.Add(record)
	}
	return builder.Build()
}
