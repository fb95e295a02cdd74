package config

import (
	"path/filepath"
	"time"
)

// CatalogConfig holds the locations used for catalog discovery
type CatalogConfig struct {
	BaseURL      string `yaml:"base_url"`      // Scheme + host of the catalog site, no trailing slash
	VersionsPath string `yaml:"versions_path"` // Path of the top-level version listing page
}

// ExtractorConfig holds the selectors used by the chapter walker to pull verses out of a page
type ExtractorConfig struct {
	VerseSelector       string `yaml:"verse_selector"`             // Elements carrying one verse (or a verse fragment)
	VerseRefAttr        string `yaml:"verse_ref_attr,omitempty"`   // Attribute holding the verse reference (e.g. data-usfm)
	ContentSelector     string `yaml:"content_selector,omitempty"` // Text-bearing children inside a verse element; empty = whole element
	NextChapterSelector string `yaml:"next_chapter_selector"`      // Link to the following chapter
	MaxChapters         int    `yaml:"max_chapters,omitempty"`     // Hard stop for the chapter walk (0 = default)
	KeepEmphasis        bool   `yaml:"keep_emphasis,omitempty"`    // Keep markdown emphasis markers in verse text
	MinVerses           int    `yaml:"min_verses,omitempty"`       // Fewer verses than this is reported as a transient failure
}

// AppConfig holds the global application configuration
type AppConfig struct {
	OutputDir              string           `yaml:"output_dir"`
	MetaFile               string           `yaml:"meta_file"`
	StateDir               string           `yaml:"state_dir"`
	SourceName             string           `yaml:"source_name"`
	NumWorkers             int              `yaml:"num_workers"`
	Repeat                 *int             `yaml:"repeat,omitempty"` // nil = DefaultRepeat
	UpdateMeta             bool             `yaml:"update_meta,omitempty"`
	Override               bool             `yaml:"override,omitempty"`
	RetryPermanentFailures bool             `yaml:"retry_permanent_failures,omitempty"`
	PerTargetTimeout       time.Duration    `yaml:"per_target_timeout,omitempty"` // 0 = no timeout
	DefaultUserAgent       string           `yaml:"default_user_agent"`
	DefaultDelayPerHost    time.Duration    `yaml:"default_delay_per_host"`
	MaxRequestsPerHost     int              `yaml:"max_requests_per_host,omitempty"`
	RespectRobots          *bool            `yaml:"respect_robots,omitempty"`
	MaxRetries             int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay      time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay          time.Duration    `yaml:"max_retry_delay,omitempty"`
	HTTPClientSettings     HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Catalog                CatalogConfig    `yaml:"catalog"`
	Extractor              ExtractorConfig  `yaml:"extractor"`
	MetricsAddr            string           `yaml:"metrics_addr,omitempty"`
	WriteSummary           *bool            `yaml:"write_summary,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// IntermediateDir is where workers stage artifacts before they are moved into OutputDir
func (c *AppConfig) IntermediateDir() string {
	return filepath.Join(c.OutputDir, "biblecom_intermediate")
}

// ReportsDir is where per-source and aggregated reports are written
func (c *AppConfig) ReportsDir() string {
	return filepath.Join(c.OutputDir, "reports")
}

// VersionsURL is the top-level listing page, also the sentinel dropped from discovery results
func (c *AppConfig) VersionsURL() string {
	return c.Catalog.BaseURL + c.Catalog.VersionsPath
}

// GetEffectiveRespectRobots reports whether robots.txt should be honoured (default true)
func GetEffectiveRespectRobots(appCfg AppConfig) bool {
	if appCfg.RespectRobots != nil {
		return *appCfg.RespectRobots
	}
	return true
}

// GetEffectiveRepeat returns the number of gap-closing passes after the first (default DefaultRepeat)
func GetEffectiveRepeat(appCfg AppConfig) int {
	if appCfg.Repeat != nil {
		return *appCfg.Repeat
	}
	return DefaultRepeat
}

// GetEffectiveWriteSummary reports whether the markdown/HTML summary is generated (default true)
func GetEffectiveWriteSummary(appCfg AppConfig) bool {
	if appCfg.WriteSummary != nil {
		return *appCfg.WriteSummary
	}
	return true
}
