package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/nhanes/internal/catalog"
	nhttp "github.com/ligustah/nhanes/internal/http"
)

// Layouts supported for the download destination.
const (
	LayoutFlat     = "flat"
	LayoutCategory = "category"
)

// DefaultUserAgent mimics a desktop browser; the data pages reject bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/104.0.0.0 Safari/537.36"

// Config defines configuration for the nhanes CLI.
type Config struct {
	Destination string        `yaml:"destination"`
	Layout      string        `yaml:"layout"`
	Workers     int           `yaml:"workers"`
	IncludeDocs bool          `yaml:"include_docs"`
	Categories  []string      `yaml:"categories"`
	Periods     []string      `yaml:"periods"`
	Progress    bool          `yaml:"progress"`
	MetricsFile string        `yaml:"metrics_file"`
	Catalog     CatalogConfig `yaml:"catalog"`
	HTTP        HTTPConfig    `yaml:"http"`
	Retry       RetryConfig   `yaml:"retry"`
}

// CatalogConfig defines where the catalog lives and where it is scraped from.
type CatalogConfig struct {
	Bucket            string  `yaml:"bucket"`
	Object            string  `yaml:"object"`
	SourceURL         string  `yaml:"source_url"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// HTTPConfig defines HTTP client behavior.
type HTTPConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Policy returns the retry policy described by r.
func (r RetryConfig) Policy() nhttp.RetryPolicy {
	return nhttp.RetryPolicy{
		Attempts:   r.Attempts,
		Backoff:    r.Backoff,
		MaxBackoff: r.MaxBackoff,
	}
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Destination: "data",
		Layout:      LayoutFlat,
		Workers:     10,
		Catalog: CatalogConfig{
			Bucket:            ".",
			Object:            "nhanes_datasets.csv",
			SourceURL:         "https://wwwn.cdc.gov/nchs/nhanes/search/datapage.aspx?Component=",
			BaseURL:           "https://wwwn.cdc.gov",
			RequestsPerSecond: 2,
		},
		HTTP: HTTPConfig{
			UserAgent: DefaultUserAgent,
		},
		Retry: RetryConfig{
			Attempts: 3,
			Backoff:  5 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Destination string          `yaml:"destination"`
	Layout      string          `yaml:"layout"`
	Workers     int             `yaml:"workers"`
	IncludeDocs bool            `yaml:"include_docs"`
	Categories  []string        `yaml:"categories"`
	Periods     []string        `yaml:"periods"`
	Progress    bool            `yaml:"progress"`
	MetricsFile string          `yaml:"metrics_file"`
	Catalog     CatalogConfig   `yaml:"catalog"`
	HTTP        yamlHTTPConfig  `yaml:"http"`
	Retry       yamlRetryConfig `yaml:"retry"`
}

type yamlHTTPConfig struct {
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of Default().
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Destination != "" {
		cfg.Destination = yc.Destination
	}
	if yc.Layout != "" {
		cfg.Layout = yc.Layout
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	cfg.IncludeDocs = yc.IncludeDocs
	if len(yc.Categories) > 0 {
		cfg.Categories = yc.Categories
	}
	if len(yc.Periods) > 0 {
		cfg.Periods = yc.Periods
	}
	cfg.Progress = yc.Progress
	cfg.MetricsFile = yc.MetricsFile
	cfg.Catalog = cfg.Catalog.merge(yc.Catalog)
	if yc.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = yc.HTTP.UserAgent
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.field, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the NHANES_ prefix; lists are comma separated.
func (c *Config) LoadFromEnv() error {
	e := envReader{}

	e.setString("NHANES_DESTINATION", &c.Destination)
	e.setString("NHANES_LAYOUT", &c.Layout)
	e.setInt("NHANES_WORKERS", &c.Workers)
	e.setBool("NHANES_INCLUDE_DOCS", &c.IncludeDocs)
	e.setList("NHANES_CATEGORIES", &c.Categories)
	e.setList("NHANES_PERIODS", &c.Periods)
	e.setBool("NHANES_PROGRESS", &c.Progress)
	e.setString("NHANES_METRICS_FILE", &c.MetricsFile)

	e.setString("NHANES_CATALOG_BUCKET", &c.Catalog.Bucket)
	e.setString("NHANES_CATALOG_OBJECT", &c.Catalog.Object)
	e.setString("NHANES_CATALOG_SOURCE_URL", &c.Catalog.SourceURL)
	e.setString("NHANES_CATALOG_BASE_URL", &c.Catalog.BaseURL)
	e.setFloat("NHANES_CATALOG_RPS", &c.Catalog.RequestsPerSecond)

	e.setString("NHANES_USER_AGENT", &c.HTTP.UserAgent)
	e.setDuration("NHANES_HTTP_TIMEOUT", &c.HTTP.Timeout)

	e.setInt("NHANES_RETRY_ATTEMPTS", &c.Retry.Attempts)
	e.setDuration("NHANES_RETRY_BACKOFF", &c.Retry.Backoff)
	e.setDuration("NHANES_RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff)

	return e.err
}

// envReader assigns set variables to their destinations and keeps the
// first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v := os.Getenv(key)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.err = fmt.Errorf("parse %s: %w", key, err)
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		*dst = splitList(v)
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		*dst = v == "true" || v == "1"
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Destination == "" {
		return errors.New("config: destination is required")
	}
	if c.Layout != LayoutFlat && c.Layout != LayoutCategory {
		return fmt.Errorf("config: unknown layout %q (want %q or %q)", c.Layout, LayoutFlat, LayoutCategory)
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return errors.New("config: retry backoff must not be negative")
	}
	if c.Catalog.Object == "" {
		return errors.New("config: catalog.object is required")
	}
	if c.Catalog.SourceURL == "" {
		return errors.New("config: catalog.source_url is required")
	}
	for _, category := range c.Categories {
		if !catalog.IsCategory(category) {
			return fmt.Errorf("config: unknown category %q (known: %s)", category, strings.Join(catalog.Categories(), ", "))
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Destination != "" {
		c.Destination = override.Destination
	}
	if override.Layout != "" {
		c.Layout = override.Layout
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.IncludeDocs {
		c.IncludeDocs = override.IncludeDocs
	}
	if len(override.Categories) > 0 {
		c.Categories = override.Categories
	}
	if len(override.Periods) > 0 {
		c.Periods = override.Periods
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.MetricsFile != "" {
		c.MetricsFile = override.MetricsFile
	}
	c.Catalog = c.Catalog.merge(override.Catalog)
	if override.HTTP.UserAgent != "" {
		c.HTTP.UserAgent = override.HTTP.UserAgent
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

func (c CatalogConfig) merge(override CatalogConfig) CatalogConfig {
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Object != "" {
		c.Object = override.Object
	}
	if override.SourceURL != "" {
		c.SourceURL = override.SourceURL
	}
	if override.BaseURL != "" {
		c.BaseURL = override.BaseURL
	}
	if override.RequestsPerSecond != 0 {
		c.RequestsPerSecond = override.RequestsPerSecond
	}
	return c
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
