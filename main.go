package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/bobch27/signupwatch/sdk"
)

type config struct {
	url      string
	input    string
	output   string
	watch    time.Duration
	timeout  time.Duration
	db       string
	redis    string
	banner   string
	headless bool
	sdk      sdk.Config
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	err = config.validate()
	if err != nil {
		log.Fatal(err)
	}

	websites, err := extractWebsites(context.Background(), config.url, config.input)
	if err != nil {
		log.Fatal(err)
	}
	if len(websites) == 0 {
		log.Fatal("no websites left to watch after filtering")
	}

	sink, err := NewCSVSink(config.output)
	if err != nil {
		log.Fatal(err)
	}

	// watch every site in a headless browser
	results, err := watchWebsites(context.Background(), config, websites)
	if err != nil {
		log.Fatal(err)
	}

	err = sink.WriteResults(results)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("📄 wrote %d results to %s\n", len(results), config.output)
}

// loadConfig reads SIGNUPWATCH_* variables (from .env when present) and then the
// command line flags
func loadConfig() (config, error) {
	var config config

	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to load .env: %w", err)
	}

	config.sdk, err = env.ParseAs[sdk.Config]()
	if err != nil {
		return config, fmt.Errorf("failed to parse environment: %w", err)
	}

	parseFlags(&config)
	return config, nil
}

// parseFlags parses command line flags into config
func parseFlags(config *config) {
	flag.StringVar(&config.url, "url", "", "Single URL to watch")
	flag.StringVar(&config.input, "input", "", "Path to input CSV file with URLs")
	flag.StringVar(&config.output, "output", "report.csv", "Path to output CSV report")
	flag.DurationVar(&config.watch, "watch", 30*time.Second, "How long to watch each page")
	flag.DurationVar(&config.timeout, "timeout", 60*time.Second, "Page load timeout")
	flag.StringVar(&config.db, "db", "", "Path to SQLite database for persisted state (default: in memory)")
	flag.StringVar(&config.redis, "redis", "", "Redis URL for persisted state shared between workers")
	flag.StringVar(&config.banner, "banner", "", "Consent banner text (shows the banner instead of implicit consent)")
	flag.BoolVar(&config.headless, "headless", true, "Run Chrome headless")

	flag.Parse()

	if config.banner != "" {
		config.sdk.ConsentBanner = true
	}
}

// validate ensures the configuration is valid
func (c *config) validate() error {
	if c.input == "" && c.url == "" {
		return fmt.Errorf("neither input file nor URL are specified")
	}
	if c.db != "" && c.redis != "" {
		return fmt.Errorf("only one of -db and -redis can be used")
	}
	if c.watch <= 0 {
		return fmt.Errorf("watch duration must be positive")
	}
	if c.sdk.APIKey == "" {
		return fmt.Errorf("SIGNUPWATCH_API_KEY is not set")
	}

	return nil
}
