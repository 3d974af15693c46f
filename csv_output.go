package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVSink handles writing watch results to a CSV file
type CSVSink struct {
	outputFile string
}

// NewCSVSink creates a new CSVSink instance
func NewCSVSink(outputFile string) (*CSVSink, error) {
	newSink := CSVSink{outputFile}
	err := newSink.validateAndCreateOutputFile()
	if err != nil {
		return nil, fmt.Errorf("failed csv output file validation/creation: %w", err)
	}

	return &newSink, nil
}

// validateAndCreateOutputFile ensures the output directory exists and is writable
func (s *CSVSink) validateAndCreateOutputFile() error {
	if s.outputFile == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	// create the output file
	// this validates both directory existence and write permissions
	file, err := os.Create(s.outputFile)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", s.outputFile, err)
	}
	file.Close()

	return nil
}

var resultHeaders = []string{
	"Website", "Initialized", "Offline", "Consent", "Detecting",
	"Forms Monitored", "Signups Reported", "OAuth Returns", "OAuth Errors",
	"Active (s)", "Max Scroll (%)", "Clicks", "Watch Errors",
}

// WriteResults writes the results to the output CSV
func (s *CSVSink) WriteResults(results []watchResult) error {
	if s == nil || s.outputFile == "" {
		return fmt.Errorf("nil csv sink")
	}

	outFile, err := os.Create(s.outputFile)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer outFile.Close()

	writer := csv.NewWriter(outFile)

	err = writer.Write(resultHeaders)
	if err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}

	for _, res := range results {
		err := writer.Write(s.row(res))
		if err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// row formats a single result in header order
func (s *CSVSink) row(res watchResult) []string {
	st := res.status
	return []string{
		res.website,
		s.boolToEmoji(st.Initialized),
		s.boolToEmoji(st.OfflineMode),
		string(st.Consent),
		s.boolToEmoji(st.Detecting),
		fmt.Sprint(st.FormsObserved),
		fmt.Sprint(st.SignupsReported),
		fmt.Sprint(st.OAuthReturns),
		fmt.Sprint(st.OAuthFailures),
		fmt.Sprint(st.Activity.TimeOnPageSeconds),
		fmt.Sprint(st.Activity.ScrollDepthPercent),
		fmt.Sprint(st.Activity.Clicks),
		strings.Join(res.watchErrs, ";\n"),
	}
}

// boolToEmoji takes in a boolean and returns corresponding
// emoji to visual inspection
func (s *CSVSink) boolToEmoji(ok bool) string {
	if !ok {
		return "❌"
	}

	return "✅"
}
