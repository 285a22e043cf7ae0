// Package config holds harvester configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds crawl, pipeline, and output configuration.
type Config struct {
	BaseURL            string        `yaml:"base_url"`
	ListingPathFormat  string        `yaml:"listing_path_format"`
	MaxPages           int           `yaml:"max_pages"`
	Parallelism        int           `yaml:"parallelism"`
	Delay              time.Duration `yaml:"delay"`
	Timeout            time.Duration `yaml:"timeout"`
	UserAgent          string        `yaml:"user_agent"`
	Categories         []string      `yaml:"categories"`
	OutputFile         string        `yaml:"output_file"`
	OutputFormat       string        `yaml:"output_format"` // csv, json, dual, or sqlite
	ReportFile         string        `yaml:"report_file"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	PipelineBufferSize int           `yaml:"pipeline_buffer_size"`
	BatchSize          int           `yaml:"batch_size"`
	PipelineWorkers    int           `yaml:"pipeline_workers"`
	RespectRobotsTxt   bool          `yaml:"respect_robots_txt"`
	Verbose            bool          `yaml:"verbose"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://books.toscrape.com",
		ListingPathFormat:  "/catalogue/page-%d.html",
		MaxPages:           50,
		Parallelism:        8,
		Delay:              1 * time.Second,
		Timeout:            10 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Categories:         []string{"Travel", "Mystery", "Historical Fiction", "Classics"},
		OutputFile:         "output/books.csv",
		OutputFormat:       "csv",
		ReportFile:         "",
		MetricsAddr:        "",
		PipelineBufferSize: 512,
		BatchSize:          64,
		// A single worker keeps output order identical to crawl order,
		// which the dataset contract requires.
		PipelineWorkers:  1,
		RespectRobotsTxt: false,
		Verbose:          false,
	}
}

// ListingURL returns the absolute listing URL for a page number.
func (c *Config) ListingURL(page int) string {
	return c.BaseURL + fmt.Sprintf(c.ListingPathFormat, page)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.ListingPathFormat == "" {
		return fmt.Errorf("listing path format cannot be empty")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("categories cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// EnvInt reads an integer environment variable. The second return value
// reports whether the variable was set.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", name, err)
	}
	return value, true, nil
}

// EnvString reads a string environment variable.
func EnvString(name string) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
