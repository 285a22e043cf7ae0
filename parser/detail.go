package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bookmetrics/harvester/models"
)

// availabilityKey is the product table row duplicated from the listing page.
const availabilityKey = "Availability"

// ParseDetail extracts the extended fields from a book detail page. An
// absent description section yields an empty string; product table keys
// that are not on the page stay absent from the map.
func ParseDetail(doc *goquery.Document) *models.DetailFields {
	detail := &models.DetailFields{
		ProductTable: make(map[string]string),
	}

	if header := doc.Find("#product_description").First(); header.Length() > 0 {
		detail.Description = strings.TrimSpace(header.NextFiltered("p").First().Text())
	}

	// The category is the last meaningful breadcrumb segment: Home >
	// Books > <category> > <title>.
	crumbs := doc.Find("ul.breadcrumb li")
	if crumbs.Length() > 2 {
		detail.Category = strings.TrimSpace(crumbs.Eq(2).Text())
	}

	doc.Find("table.table-striped tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		if key == "" {
			return
		}
		detail.ProductTable[key] = strings.TrimSpace(row.Find("td").First().Text())
	})

	if value, ok := detail.ProductTable[availabilityKey]; ok {
		detail.Availability = value
	}

	return detail
}
