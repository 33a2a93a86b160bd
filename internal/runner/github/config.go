package github

import (
	"errors"
	"time"

	"rombuilder/internal/config"
)

// Config holds configuration for the GitHub Actions runner.
type Config struct {
	Token          string        // token with actions:write on the repository
	Owner          string        // repository owner
	Repo           string        // repository name
	WorkflowFile   string        // workflow file name (default: rom-converter.yml)
	Ref            string        // branch the workflow is dispatched on (default: main)
	APIURL         string        // API base URL (default: https://api.github.com)
	ResultArtifact string        // artifact holding the download link (default: download-link)
	RateLimit      float64       // API requests per second (default: 1)
	RateBurst      int           // request burst (default: 5)
	SettleDelay    time.Duration // wait before looking for a dispatched run (default: 2s)
	DiscoverTries  int           // run lookups before giving up (default: 3)
	Timeout        time.Duration // per-request timeout (default: 30s)
}

// LoadConfigFromEnv loads runner configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Token:          config.GetSecret("GITHUB_TOKEN"),
		Owner:          config.GetEnv("GITHUB_REPO_OWNER", ""),
		Repo:           config.GetEnv("GITHUB_REPO_NAME", ""),
		WorkflowFile:   config.GetEnv("GITHUB_WORKFLOW_FILE", "rom-converter.yml"),
		Ref:            config.GetEnv("GITHUB_REF", "main"),
		APIURL:         config.GetEnv("GITHUB_API_URL", "https://api.github.com"),
		ResultArtifact: config.GetEnv("GITHUB_RESULT_ARTIFACT", "download-link"),
		RateLimit:      config.GetFloatEnv("GITHUB_RATE_LIMIT", 1),
		RateBurst:      config.GetIntEnv("GITHUB_RATE_BURST", 5),
		SettleDelay:    config.GetDurationEnv("GITHUB_SETTLE_DELAY", 2*time.Second),
		DiscoverTries:  config.GetIntEnv("GITHUB_DISCOVER_TRIES", 3),
		Timeout:        config.GetDurationEnv("GITHUB_HTTP_TIMEOUT", 30*time.Second),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.WorkflowFile == "" {
		c.WorkflowFile = "rom-converter.yml"
	}
	if c.Ref == "" {
		c.Ref = "main"
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.github.com"
	}
	if c.ResultArtifact == "" {
		c.ResultArtifact = "download-link"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 1
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.DiscoverTries <= 0 {
		c.DiscoverTries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("GITHUB_TOKEN is required"))
	}
	if c.Owner == "" {
		errs = append(errs, errors.New("GITHUB_REPO_OWNER is required"))
	}
	if c.Repo == "" {
		errs = append(errs, errors.New("GITHUB_REPO_NAME is required"))
	}
	return errors.Join(errs...)
}
