package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVSource reads the URLs to watch from a CSV file
type CSVSource struct {
	inputFile string
}

// NewCSVSource creates a new CSVSource instance, or nil when no file is given
func NewCSVSource(inputFile string) (*CSVSource, error) {
	if inputFile == "" {
		return nil, nil // not using CSV source
	}

	newSource := CSVSource{inputFile: inputFile}
	err := newSource.validateInputFile()
	if err != nil {
		return nil, fmt.Errorf("failed csv input file validation: %w", err)
	}

	return &newSource, nil
}

// validateInputFile checks if the input CSV file exists and is readable
func (s *CSVSource) validateInputFile() error {
	_, err := os.Stat(s.inputFile)
	if os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", s.inputFile)
	} else if err != nil {
		return fmt.Errorf("cannot access input file: %w", err)
	}

	return nil
}

// Extract reads the CSV file and returns the URLs in its first column. A first
// row that does not look like a URL is treated as a header
func (s *CSVSource) Extract(_ context.Context) ([]string, error) {
	if s == nil || s.inputFile == "" {
		return nil, nil
	}

	file, err := os.Open(s.inputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // rows may carry notes after the URL
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(records) < 1 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	if len(records[0]) > 0 && !looksLikeURL(records[0][0]) {
		records = records[1:] // skip header
	}

	var urls []string
	for _, row := range records {
		if len(row) > 0 {
			url := strings.TrimSpace(row[0])

			if url != "" {
				urls = append(urls, url)
			}
		}
	}

	return urls, nil
}

func looksLikeURL(cell string) bool {
	cell = strings.ToLower(strings.TrimSpace(cell))
	return strings.Contains(cell, "://") || strings.Contains(cell, ".")
}
