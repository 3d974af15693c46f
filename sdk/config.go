package sdk

import (
	"fmt"
	"slices"
	"time"
)

// Detector kinds that can be enabled in Config.Detect.
const (
	DetectSignups  = "signups"
	DetectOAuth    = "oauth"
	DetectActivity = "activity"
)

// DefaultBaseURL is the service endpoint used when none is configured.
const DefaultBaseURL = "https://api.signupwatch.io"

// Config holds the SDK configuration. It can be filled from the environment with
// caarlos0/env.
type Config struct {
	APIKey  string   `env:"SIGNUPWATCH_API_KEY"`
	BaseURL string   `env:"SIGNUPWATCH_BASE_URL" envDefault:"https://api.signupwatch.io"`
	Detect  []string `env:"SIGNUPWATCH_DETECT" envSeparator:"," envDefault:"signups,oauth,activity"`

	Privacy bool `env:"SIGNUPWATCH_PRIVACY" envDefault:"false"` // send the email only, scrub URLs
	Debug   bool `env:"SIGNUPWATCH_DEBUG" envDefault:"false"`

	ConsentBanner  bool          `env:"SIGNUPWATCH_CONSENT_BANNER" envDefault:"false"`
	ConsentTimeout time.Duration `env:"SIGNUPWATCH_CONSENT_TIMEOUT" envDefault:"30s"`
	AutoCleanup    bool          `env:"SIGNUPWATCH_AUTO_CLEANUP" envDefault:"true"` // strip OAuth tokens from the URL

	// Tuning
	MaxForms          int           `env:"SIGNUPWATCH_MAX_FORMS" envDefault:"10"`
	OAuthPollInterval time.Duration `env:"SIGNUPWATCH_OAUTH_POLL_INTERVAL" envDefault:"1s"`
	OAuthMaxChecks    int           `env:"SIGNUPWATCH_OAUTH_MAX_CHECKS" envDefault:"30"`
	OAuthEmailDelay   time.Duration `env:"SIGNUPWATCH_OAUTH_EMAIL_DELAY" envDefault:"2s"`
	HeartbeatInterval time.Duration `env:"SIGNUPWATCH_HEARTBEAT_INTERVAL" envDefault:"5m"`
	RequestTimeout    time.Duration `env:"SIGNUPWATCH_REQUEST_TIMEOUT" envDefault:"10s"`
	MaxRetries        uint64        `env:"SIGNUPWATCH_MAX_RETRIES" envDefault:"3"`
}

// DefaultConfig returns the configuration used by programmatic callers; it matches
// the environment defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Detect:            []string{DetectSignups, DetectOAuth, DetectActivity},
		ConsentTimeout:    30 * time.Second,
		AutoCleanup:       true,
		MaxForms:          10,
		OAuthPollInterval: time.Second,
		OAuthMaxChecks:    30,
		OAuthEmailDelay:   2 * time.Second,
		HeartbeatInterval: 5 * time.Minute,
		RequestTimeout:    10 * time.Second,
		MaxRetries:        3,
	}
}

// validate checks the configuration and fills empty values
func (c *Config) validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	for _, kind := range c.Detect {
		switch kind {
		case DetectSignups, DetectOAuth, DetectActivity:
		default:
			return fmt.Errorf("unknown detector %q", kind)
		}
	}

	return nil
}

func (c Config) detects(kind string) bool {
	return slices.Contains(c.Detect, kind)
}
