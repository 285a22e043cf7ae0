package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bookmetrics/harvester/models"
)

// inclTaxKey is the authoritative price row of the detail product table;
// it overrides the listing price when present.
const inclTaxKey = "Price (incl. tax)"

var (
	nonPriceChars = regexp.MustCompile(`[^0-9.]`)
	digitRun      = regexp.MustCompile(`\d+`)
)

// ratingWords is the closed ordinal vocabulary of the source site. Anything
// outside it fails closed: the record is excluded rather than guessed at.
var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// DropError explains why a record was rejected during normalization.
type DropError struct {
	Reason models.DropReason
	URL    string
	Err    error
}

func (e *DropError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("drop %s (%s): %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("drop %s (%s)", e.URL, e.Reason)
}

func (e *DropError) Unwrap() error {
	return e.Err
}

// RatingFromWord maps a word-form rating to its 1..5 integer. The second
// return value is false for anything outside the fixed vocabulary.
func RatingFromWord(word string) (int, bool) {
	value, ok := ratingWords[strings.TrimSpace(word)]
	return value, ok
}

// ParsePrice strips everything but digits and the decimal point, including
// the mis-decoded currency glyph the source emits ("Â£51.77"), and parses
// the remainder as a non-negative float.
func ParsePrice(text string) (float64, error) {
	cleaned := nonPriceChars.ReplaceAllString(text, "")
	if cleaned == "" {
		return 0, fmt.Errorf("no numeric content in %q", text)
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative price %q", text)
	}
	return value, nil
}

// ParseAvailability splits free-form availability text into a status and an
// optional count. "Out of stock" wins over "in stock" when both tokens
// appear; text matching neither reads as out of stock with no count.
func ParseAvailability(text string) (models.AvailabilityStatus, *int) {
	lower := strings.ToLower(text)

	var status models.AvailabilityStatus
	switch {
	case strings.Contains(lower, "out of stock"):
		status = models.OutOfStock
	case strings.Contains(lower, "in stock"):
		status = models.InStock
	default:
		return models.OutOfStock, nil
	}

	if match := digitRun.FindString(text); match != "" {
		if count, err := strconv.Atoi(match); err == nil {
			return status, &count
		}
	}
	return status, nil
}

// WordCount counts non-empty whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Normalize turns a raw merged record into a canonical one, or returns a
// *DropError naming the reason. It never panics and never drops silently.
func Normalize(raw *models.RawRecord) (*models.CanonicalRecord, error) {
	if raw == nil {
		return nil, &DropError{Reason: models.DropMissingField, Err: fmt.Errorf("record is nil")}
	}

	title := strings.TrimSpace(raw.Stub.Title)
	if title == "" {
		return nil, &DropError{Reason: models.DropMissingField, URL: raw.Stub.DetailURL, Err: fmt.Errorf("missing title")}
	}

	var category, description, availabilityText string
	priceText := raw.Stub.PriceText
	availabilityText = raw.Stub.Availability

	if raw.Detail != nil {
		category = strings.TrimSpace(raw.Detail.Category)
		description = raw.Detail.Description
		if raw.Detail.Availability != "" {
			availabilityText = raw.Detail.Availability
		}
		if value, ok := raw.Detail.ProductTable[inclTaxKey]; ok {
			priceText = value
		}
	}
	if category == "" {
		return nil, &DropError{Reason: models.DropMissingField, URL: raw.Stub.DetailURL, Err: fmt.Errorf("missing category for %s", title)}
	}

	rating, ok := RatingFromWord(raw.Stub.RatingText)
	if !ok {
		return nil, &DropError{Reason: models.DropMissingField, URL: raw.Stub.DetailURL, Err: fmt.Errorf("unrecognized rating %q for %s", raw.Stub.RatingText, title)}
	}

	if strings.TrimSpace(priceText) == "" {
		return nil, &DropError{Reason: models.DropMissingField, URL: raw.Stub.DetailURL, Err: fmt.Errorf("missing price for %s", title)}
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return nil, &DropError{Reason: models.DropInvalidPrice, URL: raw.Stub.DetailURL, Err: err}
	}

	status, count := ParseAvailability(availabilityText)

	return &models.CanonicalRecord{
		Title:                title,
		Description:          description,
		Category:             category,
		Price:                price,
		Rating:               rating,
		Availability:         status,
		StockCount:           count,
		DescriptionWordCount: WordCount(description),
		URL:                  raw.Stub.DetailURL,
	}, nil
}
