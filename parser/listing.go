// Package parser extracts and normalizes catalog records from page markup.
package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bookmetrics/harvester/models"
)

// ParseListing extracts record stubs from one catalog listing page. Relative
// detail links are resolved against base. The second return value reports
// whether the page advertises a next page; a page with zero entries is the
// natural end of the catalog, not an error.
func ParseListing(doc *goquery.Document, base *url.URL) ([]models.RecordStub, bool) {
	var stubs []models.RecordStub

	doc.Find("article.product_pod").Each(func(_ int, e *goquery.Selection) {
		link := e.Find("h3 a").First()
		title := strings.TrimSpace(link.AttrOr("title", ""))
		href := link.AttrOr("href", "")
		if title == "" || href == "" {
			return
		}

		detailURL := href
		if base != nil {
			if resolved, err := base.Parse(href); err == nil {
				detailURL = resolved.String()
			}
		}

		availability := strings.TrimSpace(e.Find("p.instock.availability").Text())
		if availability == "" {
			availability = strings.TrimSpace(e.Find("p.availability").Text())
		}

		stubs = append(stubs, models.RecordStub{
			Title:        title,
			PriceText:    strings.TrimSpace(e.Find("p.price_color").Text()),
			RatingText:   ratingClassWord(e.Find("p.star-rating").AttrOr("class", "")),
			Availability: availability,
			DetailURL:    detailURL,
		})
	})

	hasMore := doc.Find("li.next a").Length() > 0
	return stubs, hasMore
}

// ratingClassWord pulls the rating word out of a "star-rating Three" class
// attribute.
func ratingClassWord(class string) string {
	parts := strings.Fields(class)
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}
