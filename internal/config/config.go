// Package config defines the YAML-driven configuration tree for the
// crawler binary, following the same Defaults()/Verify(*ConfigErrors)
// convention the rest of the ambient stack uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ConfigErrors accumulates human-readable validation failures so Verify
// can report everything wrong with a config in one pass instead of
// failing on the first problem.
type ConfigErrors []string

func (e *ConfigErrors) Add(msg string) {
	*e = append(*e, msg)
}

func (e ConfigErrors) Error() string {
	return strings.Join(e, "\n")
}

func checkNotEmpty(errs *ConfigErrors, fieldName, value string) {
	if strings.TrimSpace(value) == "" {
		errs.Add(fmt.Sprintf("%s must not be empty", fieldName))
	}
}

func checkPositive(errs *ConfigErrors, fieldName string, value int64) {
	if value <= 0 {
		errs.Add(fmt.Sprintf("%s must be positive, got %d", fieldName, value))
	}
}

// Config is the top-level configuration tree for matrixminer.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Accounts []Account      `yaml:"accounts"`
	Crawl    CrawlOptions   `yaml:"crawl"`
	Logging  LoggingOptions `yaml:"logging"`
}

// Account identifies one Matrix account the crawler may operate on.
// Credential storage and login flows are out of scope (§1); this only
// names the account directory and homeserver to connect to.
type Account struct {
	UserID      string `yaml:"user_id"`
	Homeserver  string `yaml:"homeserver"`
	DisplayName string `yaml:"display_name,omitempty"`
}

// CrawlOptions tunes the concurrency orchestrator and pagination driver.
type CrawlOptions struct {
	MaxConcurrency    int `yaml:"max_concurrency"`
	PaginationBatch   int `yaml:"pagination_batch"`
	DiscoveryBatch    int `yaml:"discovery_batch"`
	PollTimeoutMillis int `yaml:"poll_timeout_ms"`
}

type LoggingOptions struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultOpts mirrors the teacher's DefaultOpts{Generate,...} pattern:
// Defaults behaves differently when generating a fresh sample config
// versus filling gaps in a partially-specified one.
type DefaultOpts struct {
	Generate bool
}

func (c *Config) Defaults(opts DefaultOpts) {
	if c.DataDir == "" {
		c.DataDir = ".my"
	}
	c.Crawl.Defaults()
	c.Logging.Defaults()
	if opts.Generate && len(c.Accounts) == 0 {
		c.Accounts = []Account{{UserID: "@alice:example.org", Homeserver: "https://example.org"}}
	}
}

func (c *CrawlOptions) Defaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 8
	}
	if c.PaginationBatch == 0 {
		c.PaginationBatch = 100
	}
	if c.DiscoveryBatch == 0 {
		c.DiscoveryBatch = 50
	}
	if c.PollTimeoutMillis == 0 {
		c.PollTimeoutMillis = 200
	}
}

func (l *LoggingOptions) Defaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func (c *Config) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "data_dir", c.DataDir)
	c.Crawl.Verify(configErrs)
	c.Logging.Verify(configErrs)
	for i, a := range c.Accounts {
		checkNotEmpty(configErrs, fmt.Sprintf("accounts[%d].user_id", i), a.UserID)
		checkNotEmpty(configErrs, fmt.Sprintf("accounts[%d].homeserver", i), a.Homeserver)
	}
}

func (c *CrawlOptions) Verify(configErrs *ConfigErrors) {
	checkPositive(configErrs, "crawl.max_concurrency", int64(c.MaxConcurrency))
	checkPositive(configErrs, "crawl.pagination_batch", int64(c.PaginationBatch))
	checkPositive(configErrs, "crawl.discovery_batch", int64(c.DiscoveryBatch))
	checkPositive(configErrs, "crawl.poll_timeout_ms", int64(c.PollTimeoutMillis))
}

func (l *LoggingOptions) Verify(configErrs *ConfigErrors) {
	switch l.Format {
	case "text", "json":
	default:
		configErrs.Add(fmt.Sprintf("logging.format must be text or json, got %q", l.Format))
	}
}

// PollTimeout returns the configured poll timeout as a time.Duration.
func (c CrawlOptions) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMillis) * time.Millisecond
}

// Load reads and parses a YAML config file, applying defaults and
// verifying the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	c.Defaults(DefaultOpts{})

	var errs ConfigErrors
	c.Verify(&errs)
	if len(errs) > 0 {
		return nil, &errs
	}
	return &c, nil
}

// AccountDir returns the on-disk directory for a given account id,
// replacing ':' with '_' per §6.
func (c *Config) AccountDir(userID string) string {
	return filepath.Join(c.DataDir, "accounts", strings.ReplaceAll(userID, ":", "_"))
}
