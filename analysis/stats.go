// Package analysis answers the fixed analytical question set over a
// harvested dataset.
package analysis

import (
	"fmt"

	"github.com/bookmetrics/harvester/dataset"
	"github.com/bookmetrics/harvester/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

// statsCacheSize bounds the per-category aggregate cache. The allow-list
// holds four categories; the headroom covers ad-hoc queries against
// reloaded datasets with more.
const statsCacheSize = 32

// CategoryStats aggregates one category's records.
type CategoryStats struct {
	Category             string
	Count                int
	MinPrice             float64
	MaxPrice             float64
	MeanPrice            float64
	TotalPrice           float64
	InStock              int
	OutOfStock           int
	StockSum             int
	MeanDescriptionWords float64
}

// Analyzer computes aggregates over an immutable dataset. Per-category
// stats are memoized: the question set hits the same few categories
// repeatedly.
type Analyzer struct {
	ds    *dataset.Dataset
	cache *lru.Cache[string, *CategoryStats]
}

// New builds an analyzer over ds. The dataset must not change afterwards.
func New(ds *dataset.Dataset) (*Analyzer, error) {
	cache, err := lru.New[string, *CategoryStats](statsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create stats cache: %w", err)
	}
	return &Analyzer{ds: ds, cache: cache}, nil
}

// Dataset returns the underlying dataset.
func (a *Analyzer) Dataset() *dataset.Dataset {
	return a.ds
}

// Stats returns the aggregates for one category. A category with no
// records yields zero-valued stats.
func (a *Analyzer) Stats(category string) *CategoryStats {
	if cached, ok := a.cache.Get(category); ok {
		return cached
	}

	stats := &CategoryStats{Category: category}
	var priceSum, wordSum float64
	for _, record := range a.ds.Records {
		if record.Category != category {
			continue
		}
		stats.Count++
		priceSum += record.Price
		wordSum += float64(record.DescriptionWordCount)
		if stats.Count == 1 || record.Price < stats.MinPrice {
			stats.MinPrice = record.Price
		}
		if record.Price > stats.MaxPrice {
			stats.MaxPrice = record.Price
		}
		switch record.Availability {
		case models.InStock:
			stats.InStock++
		default:
			stats.OutOfStock++
		}
		if record.StockCount != nil {
			stats.StockSum += *record.StockCount
		}
	}
	if stats.Count > 0 {
		stats.TotalPrice = priceSum
		stats.MeanPrice = priceSum / float64(stats.Count)
		stats.MeanDescriptionWords = wordSum / float64(stats.Count)
	}

	a.cache.Add(category, stats)
	return stats
}

// countWhere counts records in a category matching the predicate.
func (a *Analyzer) countWhere(category string, match func(*models.CanonicalRecord) bool) int {
	count := 0
	for _, record := range a.ds.Records {
		if record.Category == category && match(record) {
			count++
		}
	}
	return count
}
