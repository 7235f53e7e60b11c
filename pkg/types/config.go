package types

import "time"

// GeneralConfig holds run-wide settings that don't belong to a single stage.
type GeneralConfig struct {
	OutputDir    string `mapstructure:"output_dir" yaml:"output_dir"`
	InputCSV     string `mapstructure:"input_csv" yaml:"input_csv"`
	StateFile    string `mapstructure:"state_file" yaml:"state_file"`
	IndexCSV     string `mapstructure:"index_csv" yaml:"index_csv"`
	DryRun       bool   `mapstructure:"dry_run" yaml:"dry_run"`
}

// ProvidersConfig maps provider_key to its enabled flag.
type ProvidersConfig map[string]bool

// NetworkConfig is provider_settings.network: pacing, retry, breaker, TLS
// policy, and extra headers for one provider (or the "default" fallback).
type NetworkConfig struct {
	DelayMS             int               `mapstructure:"delay_ms" yaml:"delay_ms"`
	JitterMS            int               `mapstructure:"jitter_ms" yaml:"jitter_ms"`
	MaxAttempts         int               `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoffS        float64           `mapstructure:"base_backoff_s" yaml:"base_backoff_s"`
	BackoffMultiplier   float64           `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxBackoffS         float64           `mapstructure:"max_backoff_s" yaml:"max_backoff_s"`
	TimeoutS            float64           `mapstructure:"timeout_s" yaml:"timeout_s"`
	CircuitBreakerEnabled   bool          `mapstructure:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldownS float64       `mapstructure:"circuit_breaker_cooldown_s" yaml:"circuit_breaker_cooldown_s"`
	SSLErrorPolicy      string            `mapstructure:"ssl_error_policy" yaml:"ssl_error_policy"`
	Headers             map[string]string `mapstructure:"headers" yaml:"headers"`
}

// QuotaConfig is provider_settings.quota for one provider.
type QuotaConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	DailyLimit     int     `mapstructure:"daily_limit" yaml:"daily_limit"`
	ResetHours     float64 `mapstructure:"reset_hours" yaml:"reset_hours"`
	WaitForReset   bool    `mapstructure:"wait_for_reset" yaml:"wait_for_reset"`
}

// ProviderSettings is the per-provider_key entry in provider_settings; a
// "default" key supplies the fallback for unlisted providers.
type ProviderSettings struct {
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Quota   QuotaConfig   `mapstructure:"quota" yaml:"quota"`
}

// DownloadConfig is the download section: scheduler- and adapter-facing
// policy knobs.
type DownloadConfig struct {
	ResumeMode                string         `mapstructure:"resume_mode" yaml:"resume_mode"`
	PreferPDFOverImages       bool           `mapstructure:"prefer_pdf_over_images" yaml:"prefer_pdf_over_images"`
	DownloadManifestRenderings bool          `mapstructure:"download_manifest_renderings" yaml:"download_manifest_renderings"`
	MaxRenderingsPerManifest  int            `mapstructure:"max_renderings_per_manifest" yaml:"max_renderings_per_manifest"`
	RenderingMimeWhitelist    []string       `mapstructure:"rendering_mime_whitelist" yaml:"rendering_mime_whitelist"`
	OverwriteExisting         bool           `mapstructure:"overwrite_existing" yaml:"overwrite_existing"`
	IncludeMetadata           bool           `mapstructure:"include_metadata" yaml:"include_metadata"`
	AllowedObjectExtensions   []string       `mapstructure:"allowed_object_extensions" yaml:"allowed_object_extensions"`
	MaxParallelDownloads      int            `mapstructure:"max_parallel_downloads" yaml:"max_parallel_downloads"`
	ProviderConcurrency       map[string]int `mapstructure:"provider_concurrency" yaml:"provider_concurrency"`
	WorkerTimeoutS            float64        `mapstructure:"worker_timeout_s" yaml:"worker_timeout_s"`
}

// ClassLimits is one scope's (total or per_work) limits by content class,
// expressed the way the config document spells them: *_gb for pdf/image,
// *_mb for metadata, normalized to bytes at load.
type ClassLimits struct {
	PDFGB      float64 `mapstructure:"pdfs_gb" yaml:"pdfs_gb"`
	ImageGB    float64 `mapstructure:"images_gb" yaml:"images_gb"`
	MetadataMB float64 `mapstructure:"metadata_mb" yaml:"metadata_mb"`
}

// DownloadLimitsConfig is the download_limits section: total and per_work
// byte ceilings plus the on-exceed policy.
type DownloadLimitsConfig struct {
	Total    ClassLimits  `mapstructure:"total" yaml:"total"`
	PerWork  ClassLimits  `mapstructure:"per_work" yaml:"per_work"`
	OnExceed ExceedPolicy `mapstructure:"on_exceed" yaml:"on_exceed"`
}

// SelectionConfig is the selection section: the selector's strategy and
// scoring parameters.
type SelectionConfig struct {
	Strategy              string   `mapstructure:"strategy" yaml:"strategy"`
	MaxParallelSearches   int      `mapstructure:"max_parallel_searches" yaml:"max_parallel_searches"`
	MaxCandidatesPerProvider int   `mapstructure:"max_candidates_per_provider" yaml:"max_candidates_per_provider"`
	MinTitleScore         float64  `mapstructure:"min_title_score" yaml:"min_title_score"`
	CreatorWeight         float64  `mapstructure:"creator_weight" yaml:"creator_weight"`
	ProviderHierarchy     []string `mapstructure:"provider_hierarchy" yaml:"provider_hierarchy"`
}

// NamingConfig is the naming section: slug generation limits.
type NamingConfig struct {
	TitleSlugMaxLen int `mapstructure:"title_slug_max_len" yaml:"title_slug_max_len"`
}

// Config is the single structured configuration document described in the
// external interfaces: general, providers, provider_settings, download,
// download_limits, selection, naming.
type Config struct {
	General          GeneralConfig               `mapstructure:"general" yaml:"general"`
	Providers        ProvidersConfig             `mapstructure:"providers" yaml:"providers"`
	ProviderSettings map[string]ProviderSettings `mapstructure:"provider_settings" yaml:"provider_settings"`
	Download         DownloadConfig              `mapstructure:"download" yaml:"download"`
	DownloadLimits   DownloadLimitsConfig        `mapstructure:"download_limits" yaml:"download_limits"`
	Selection        SelectionConfig             `mapstructure:"selection" yaml:"selection"`
	Naming           NamingConfig                `mapstructure:"naming" yaml:"naming"`
}

// DefaultDeferredQueueTickInterval is how often the background replay
// ticker scans the deferred queue; the configuration document has no
// setting for it.
const DefaultDeferredQueueTickInterval = 30 * time.Second

// DeferredQueueCompactionAge is how old a terminal-status deferred item must
// be before the compaction sweep removes it.
const DeferredQueueCompactionAge = 7 * 24 * time.Hour

// NetworkConfigFor returns the provider-specific network settings, falling
// back to the "default" entry when providerKey has none.
func (c Config) NetworkConfigFor(providerKey string) NetworkConfig {
	if ps, ok := c.ProviderSettings[providerKey]; ok {
		return ps.Network
	}
	return c.ProviderSettings["default"].Network
}

// QuotaConfigFor returns the provider-specific quota settings, falling back
// to the "default" entry when providerKey has none.
func (c Config) QuotaConfigFor(providerKey string) QuotaConfig {
	if ps, ok := c.ProviderSettings[providerKey]; ok {
		return ps.Quota
	}
	return c.ProviderSettings["default"].Quota
}

// ProviderConcurrencyFor returns the worker-pool semaphore size for
// providerKey, falling back to download.provider_concurrency["default"].
func (c Config) ProviderConcurrencyFor(providerKey string) int {
	if n, ok := c.Download.ProviderConcurrency[providerKey]; ok {
		return n
	}
	return c.Download.ProviderConcurrency["default"]
}
