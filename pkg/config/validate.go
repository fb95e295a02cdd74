package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const (
	defaultBaseURL             = "https://www.bible.com"
	defaultVersionsPath        = "/versions"
	defaultVerseSelector       = "span[data-usfm]"
	defaultVerseRefAttr        = "data-usfm"
	defaultContentSelector     = `span[class*="content"]`
	defaultNextChapterSelector = `a[data-testid="next-chapter"]`

	// DefaultRepeat is the number of gap-closing passes when repeat is unset
	DefaultRepeat = 1

	// DefaultMaxChapters caps a chapter walk when extractor.max_chapters is unset
	DefaultMaxChapters = 1500
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 20")
		c.NumWorkers = 20
	}

	// Repeat
	if c.Repeat == nil {
		repeat := DefaultRepeat
		c.Repeat = &repeat
	} else if *c.Repeat < 0 {
		warnings = append(warnings, "repeat cannot be negative, setting to 0 (single pass)")
		zero := 0
		c.Repeat = &zero
	}

	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to './output'")
		c.OutputDir = "./output"
	}
	if c.MetaFile == "" {
		warnings = append(warnings, "meta_file is empty, defaulting to './meta/biblecom.tsv'")
		c.MetaFile = "./meta/biblecom.tsv"
	}
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	// SourceName ends up in a filename and is parsed back by the aggregator
	if c.SourceName == "" {
		c.SourceName = "biblecom"
	} else if sanitized := utils.SanitizeFilename(c.SourceName); sanitized != c.SourceName {
		warnings = append(warnings, fmt.Sprintf("source_name '%s' is not filename-safe, using '%s'", c.SourceName, sanitized))
		c.SourceName = sanitized
	}

	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = "biblecom-crawler/1.0"
	}

	if c.MaxRequestsPerHost <= 0 {
		c.MaxRequestsPerHost = c.NumWorkers
	}

	if c.PerTargetTimeout < 0 {
		warnings = append(warnings, "per_target_timeout cannot be negative, disabling timeout")
		c.PerTargetTimeout = 0
	}

	// HTTP-level retries stay off unless asked for; passes are the retry mechanism
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	c.validateHTTPClientSettings()

	if err := c.validateCatalog(); err != nil {
		return warnings, err
	}
	warnings = append(warnings, c.validateExtractor()...)

	return warnings, nil
}

// validateCatalog applies catalog defaults and rejects unusable base URLs.
func (c *AppConfig) validateCatalog() error {
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = defaultBaseURL
	}
	c.Catalog.BaseURL = strings.TrimRight(c.Catalog.BaseURL, "/")
	parsed, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: catalog.base_url '%s' must be an absolute URL", utils.ErrConfigValidation, c.Catalog.BaseURL)
	}
	if c.Catalog.VersionsPath == "" {
		c.Catalog.VersionsPath = defaultVersionsPath
	} else if c.Catalog.VersionsPath[0] != '/' {
		c.Catalog.VersionsPath = "/" + c.Catalog.VersionsPath
	}
	return nil
}

// validateExtractor applies selector defaults.
func (c *AppConfig) validateExtractor() (warnings []string) {
	e := &c.Extractor
	if e.VerseSelector == "" {
		e.VerseSelector = defaultVerseSelector
	}
	if e.VerseRefAttr == "" {
		e.VerseRefAttr = defaultVerseRefAttr
	}
	if e.ContentSelector == "" {
		e.ContentSelector = defaultContentSelector
	}
	if e.NextChapterSelector == "" {
		e.NextChapterSelector = defaultNextChapterSelector
	}
	if e.MaxChapters <= 0 {
		e.MaxChapters = DefaultMaxChapters
	}
	if e.MinVerses < 0 {
		warnings = append(warnings, "extractor.min_verses cannot be negative, setting to 1")
		e.MinVerses = 1
	}
	if e.MinVerses == 0 {
		e.MinVerses = 1
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.NumWorkers
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
