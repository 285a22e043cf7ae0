package pipeline

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bookmetrics/harvester/models"
)

const booksSchema = `
CREATE TABLE IF NOT EXISTS books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	category TEXT NOT NULL,
	price REAL NOT NULL,
	rating INTEGER NOT NULL,
	availability_status TEXT NOT NULL,
	stock_count INTEGER,
	description_word_count INTEGER NOT NULL,
	url TEXT NOT NULL
);`

const insertBook = `
INSERT INTO books
	(title, description, category, price, rating, availability_status, stock_count, description_word_count, url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`

// SQLiteWriter persists canonical records into a SQLite table, so a later
// run can query the dataset without re-scraping.
type SQLiteWriter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database file and ensures the
// books table exists. An existing books table is cleared: each scrape
// produces a complete dataset, not an increment.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(booksSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create books table: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM books`); err != nil {
		db.Close()
		return nil, fmt.Errorf("clear books table: %w", err)
	}

	return &SQLiteWriter{db: db}, nil
}

// Write inserts a batch of records in one transaction.
func (sw *SQLiteWriter) Write(records []*models.CanonicalRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(insertBook)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		var stockCount interface{}
		if record.StockCount != nil {
			stockCount = *record.StockCount
		}
		if _, err := stmt.Exec(
			record.Title,
			record.Description,
			record.Category,
			record.Price,
			record.Rating,
			string(record.Availability),
			stockCount,
			record.DescriptionWordCount,
			record.URL,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record %q: %w", record.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures at least one row was persisted.
func (sw *SQLiteWriter) Validate() error {
	var count int
	if err := sw.db.QueryRow(`SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return fmt.Errorf("count books: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("books table is empty")
	}
	return nil
}
