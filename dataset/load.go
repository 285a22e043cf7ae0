package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bookmetrics/harvester/models"
)

// Load reads a previously persisted CSV dataset back into memory, so the
// analysis layer can run without re-scraping. The file must carry the
// header row written by the CSV writer.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read parses a CSV dataset from r.
func Read(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if len(header) != len(Header) {
		return nil, fmt.Errorf("unexpected header %v", header)
	}
	for i, column := range Header {
		if header[i] != column {
			return nil, fmt.Errorf("unexpected header column %q, want %q", header[i], column)
		}
	}

	ds := &Dataset{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset row: %w", err)
		}

		record, err := recordFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ds.Records = append(ds.Records, record)
	}
	return ds, nil
}

func recordFromRow(row []string) (*models.CanonicalRecord, error) {
	if len(row) != len(Header) {
		return nil, fmt.Errorf("row has %d columns, want %d", len(row), len(Header))
	}

	price, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", row[3], err)
	}
	rating, err := strconv.Atoi(row[4])
	if err != nil {
		return nil, fmt.Errorf("rating %q: %w", row[4], err)
	}

	var stockCount *int
	if row[6] != "" {
		count, err := strconv.Atoi(row[6])
		if err != nil {
			return nil, fmt.Errorf("stock count %q: %w", row[6], err)
		}
		stockCount = &count
	}

	wordCount, err := strconv.Atoi(row[7])
	if err != nil {
		return nil, fmt.Errorf("word count %q: %w", row[7], err)
	}

	return &models.CanonicalRecord{
		Title:                row[0],
		Description:          row[1],
		Category:             row[2],
		Price:                price,
		Rating:               rating,
		Availability:         models.AvailabilityStatus(row[5]),
		StockCount:           stockCount,
		DescriptionWordCount: wordCount,
		URL:                  row[8],
	}, nil
}
