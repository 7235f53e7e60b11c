// Package config loads the single structured configuration document (§6),
// normalizes GB/MB class limits to bytes, and validates the total-vs-per-work
// consistency the original leaves unspecified (§9).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/pkg/types"
)

// Load reads the configuration document from path (or, if path is empty,
// from the ARCHIVIST_CONFIG environment variable, then archivist.yaml in the
// current directory), applies ARCHIVIST_-prefixed environment variable
// overrides, and validates it. Grounded on
// `cmd/research-engine/main.go::initConfig`'s viper wiring.
func Load(path string) (types.Config, error) {
	if path == "" {
		path = os.Getenv("ARCHIVIST_CONFIG")
	}
	v := viper.New()
	v.SetEnvPrefix("ARCHIVIST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("archivist")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return types.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("general.output_dir", "downloaded_works")
	v.SetDefault("general.state_file", ".downloader_state.json")
	v.SetDefault("general.index_csv", "index.csv")
	v.SetDefault("download.resume_mode", "skip_completed")
	v.SetDefault("download.max_parallel_downloads", 4)
	v.SetDefault("download.worker_timeout_s", 120.0)
	v.SetDefault("download_limits.on_exceed", "skip")
	v.SetDefault("selection.strategy", "collect_and_select")
	v.SetDefault("selection.max_parallel_searches", 4)
	v.SetDefault("selection.max_candidates_per_provider", 10)
	v.SetDefault("selection.min_title_score", 85.0)
	v.SetDefault("selection.creator_weight", 0.2)
	v.SetDefault("naming.title_slug_max_len", 80)
	v.SetDefault("provider_settings.default.network.delay_ms", 500)
	v.SetDefault("provider_settings.default.network.jitter_ms", 250)
	v.SetDefault("provider_settings.default.network.max_attempts", 5)
	v.SetDefault("provider_settings.default.network.base_backoff_s", 1.0)
	v.SetDefault("provider_settings.default.network.backoff_multiplier", 2.0)
	v.SetDefault("provider_settings.default.network.max_backoff_s", 60.0)
	v.SetDefault("provider_settings.default.network.timeout_s", 30.0)
	v.SetDefault("provider_settings.default.network.circuit_breaker_enabled", true)
	v.SetDefault("provider_settings.default.network.circuit_breaker_threshold", 5)
	v.SetDefault("provider_settings.default.network.circuit_breaker_cooldown_s", 60.0)
	v.SetDefault("provider_settings.default.network.ssl_error_policy", "fail")
	v.SetDefault("provider_settings.default.quota.enabled", false)
}

// Validate checks the configuration for the load-time failures §9's Open
// Question resolution requires: a per-work class limit set larger than that
// class's total limit, when both are nonzero, is rejected outright.
func Validate(cfg types.Config) error {
	total := normalizeClassLimits(cfg.DownloadLimits.Total)
	perWork := normalizeClassLimits(cfg.DownloadLimits.PerWork)
	for class, tLimit := range total {
		pLimit, ok := perWork[class]
		if !ok || tLimit.Bytes == 0 || pLimit.Bytes == 0 {
			continue
		}
		if pLimit.Bytes > tLimit.Bytes {
			return fmt.Errorf("config error: per_work limit for %s (%d bytes) exceeds total limit (%d bytes)", class, pLimit.Bytes, tLimit.Bytes)
		}
	}
	return nil
}

// normalizeClassLimits converts a ClassLimits document section (GB/MB) into
// byte-keyed types.ClassLimit values, per §4.1's "units are bytes, config
// uses GB/MB, normalized at load" rule.
func normalizeClassLimits(cl types.ClassLimits) map[types.ContentClass]types.ClassLimit {
	return map[types.ContentClass]types.ClassLimit{
		types.ClassPDF:      {Bytes: budget.GBToBytes(cl.PDFGB)},
		types.ClassImage:    {Bytes: budget.GBToBytes(cl.ImageGB)},
		types.ClassMetadata: {Bytes: budget.MBToBytes(cl.MetadataMB)},
	}
}

// BudgetLimits builds the internal/budget.Limits the Accountant needs from
// the loaded configuration's download_limits section.
func BudgetLimits(cfg types.Config) budget.Limits {
	return budget.Limits{
		Total:   normalizeClassLimits(cfg.DownloadLimits.Total),
		PerWork: normalizeClassLimits(cfg.DownloadLimits.PerWork),
	}
}
