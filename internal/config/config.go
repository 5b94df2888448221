// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package config loads and validates Freshlake configuration.
//
// Configuration is layered via koanf v2 (highest priority wins):
//
//  1. Environment variables (FRESHLAKE_ prefix, e.g. FRESHLAKE_SERVER_ADDR)
//  2. Config file (config.yaml, or CONFIG_PATH override)
//  3. Built-in defaults
//
// Dataset descriptors are declared in the config file under `datasets`;
// priority weights and fallback count estimates are configuration data, not
// package-level tables, so tests can inject synthetic datasets.
package config

import (
	"time"

	"github.com/freshlake/freshlake/internal/models"
)

// Config is the root configuration for the Freshlake server.
type Config struct {
	Server   ServerConfig    `koanf:"server" json:"server"`
	Logging  LoggingConfig   `koanf:"logging" json:"logging"`
	Store    StoreConfig     `koanf:"store" json:"store"`
	Catalog  CatalogConfig   `koanf:"catalog" json:"catalog"`
	Sync     SyncConfig      `koanf:"sync" json:"sync"`
	Datasets []DatasetConfig `koanf:"datasets" json:"datasets" validate:"dive"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr" json:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`

	// RequestsPerMinute is the httprate budget per client IP.
	RequestsPerMinute int `koanf:"requests_per_minute" json:"requests_per_minute" validate:"gte=1"`

	// CORSOrigins lists allowed origins for the progress websocket and API.
	CORSOrigins []string `koanf:"cors_origins" json:"cors_origins"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" json:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller" json:"caller"`
}

// StoreConfig holds the embedded badger store settings.
type StoreConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string `koanf:"path" json:"path"`
	InMemory bool   `koanf:"in_memory" json:"in_memory"`
}

// CatalogConfig holds upstream catalog API client settings shared by all
// datasets: request budget, retry policy, and schema probing.
type CatalogConfig struct {
	// AppToken is the catalog application token. Optional; when present the
	// higher request budget applies and the token rides on every request.
	AppToken string `koanf:"app_token" json:"app_token"`

	RequestTimeout time.Duration `koanf:"request_timeout" json:"request_timeout" validate:"gt=0"`

	// RetryAttempts bounds the per-page retry loop for transient failures.
	RetryAttempts  int           `koanf:"retry_attempts" json:"retry_attempts" validate:"gte=1,lte=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" json:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay" json:"retry_max_delay" validate:"gt=0"`

	// RequestsPerHour is the upstream budget without a token;
	// RequestsPerHourWithToken applies when AppToken is set.
	RequestsPerHour          int `koanf:"requests_per_hour" json:"requests_per_hour" validate:"gte=1"`
	RequestsPerHourWithToken int `koanf:"requests_per_hour_with_token" json:"requests_per_hour_with_token" validate:"gte=1"`

	// SchemaCacheTTL bounds how long a schema probe result is trusted.
	SchemaCacheTTL time.Duration `koanf:"schema_cache_ttl" json:"schema_cache_ttl" validate:"gt=0"`

	// SampleSize is the page size of the statistical count-extrapolation
	// probe (estimation method 3).
	SampleSize int `koanf:"sample_size" json:"sample_size" validate:"gte=1"`
}

// SyncConfig holds ingestion loop and scheduler settings.
type SyncConfig struct {
	// PageDelayFloor is the minimum delay between page fetches, before
	// batch-size and budget scaling.
	PageDelayFloor time.Duration `koanf:"page_delay_floor" json:"page_delay_floor"`

	// EndOfDataFraction terminates pagination when a page returns fewer
	// than PageSize*fraction records. Deliberately not a zero-check: some
	// upstreams pad pages until the exact end.
	EndOfDataFraction float64 `koanf:"end_of_data_fraction" json:"end_of_data_fraction" validate:"gt=0,lte=1"`

	// MaxBatches is the hard safety cap on pages per sync, guarding
	// against a misbehaving upstream that never terminates.
	MaxBatches int `koanf:"max_batches" json:"max_batches" validate:"gte=1"`

	// Memory pressure thresholds for streamed fetches, in bytes.
	// Above the soft limit the inter-page delay is scaled up; above the
	// hard limit the fetch aborts.
	MemorySoftLimit uint64 `koanf:"memory_soft_limit" json:"memory_soft_limit"`
	MemoryHardLimit uint64 `koanf:"memory_hard_limit" json:"memory_hard_limit"`

	// StaleThresholdDays is the fixed staleness threshold (spec default 7).
	StaleThresholdDays int `koanf:"stale_threshold_days" json:"stale_threshold_days" validate:"gte=1"`

	// InterCheckDelay serializes freshness checks against the same rate
	// budget as bulk fetches.
	InterCheckDelay time.Duration `koanf:"inter_check_delay" json:"inter_check_delay"`

	// Scheduler loop settings.
	CheckInterval   time.Duration `koanf:"check_interval" json:"check_interval" validate:"gt=0"`
	ExecuteInterval time.Duration `koanf:"execute_interval" json:"execute_interval" validate:"gt=0"`
	MaxConcurrent   int           `koanf:"max_concurrent" json:"max_concurrent" validate:"gte=1"`
	MaxDuration     time.Duration `koanf:"max_duration" json:"max_duration" validate:"gt=0"`
}

// DatasetConfig declares one tracked dataset in the config file.
type DatasetConfig struct {
	ID                string `koanf:"id" json:"id" validate:"required"`
	Name              string `koanf:"name" json:"name" validate:"required"`
	Endpoint          string `koanf:"endpoint" json:"endpoint" validate:"required,url"`
	MetadataEndpoint  string `koanf:"metadata_endpoint" json:"metadata_endpoint" validate:"omitempty,url"`
	NaturalKeys       []string `koanf:"natural_keys" json:"natural_keys"`
	LastModifiedField string `koanf:"last_modified_field" json:"last_modified_field"`
	PageSize          int    `koanf:"page_size" json:"page_size" validate:"gte=1,lte=50000"`
	Priority          int    `koanf:"priority" json:"priority" validate:"gte=1,lte=100"`
	FallbackCount     int64  `koanf:"fallback_count" json:"fallback_count" validate:"gte=0"`
}

// Descriptor converts the config entry into the immutable engine descriptor.
func (d DatasetConfig) Descriptor() models.Dataset {
	return models.Dataset{
		ID:                d.ID,
		Name:              d.Name,
		Endpoint:          d.Endpoint,
		MetadataEndpoint:  d.MetadataEndpoint,
		NaturalKeys:       d.NaturalKeys,
		LastModifiedField: d.LastModifiedField,
		PageSize:          d.PageSize,
		Priority:          d.Priority,
		FallbackCount:     d.FallbackCount,
	}
}

// Descriptors returns all configured datasets as engine descriptors.
func (c *Config) Descriptors() []models.Dataset {
	out := make([]models.Dataset, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		out = append(out, d.Descriptor())
	}
	return out
}

// RequestBudget returns the effective hourly request budget, higher when an
// app token is configured.
func (c *CatalogConfig) RequestBudget() int {
	if c.AppToken != "" {
		return c.RequestsPerHourWithToken
	}
	return c.RequestsPerHour
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// layered first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8474",
			ShutdownTimeout:   10 * time.Second,
			RequestsPerMinute: 300,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path: "/data/freshlake",
		},
		Catalog: CatalogConfig{
			RequestTimeout:           30 * time.Second,
			RetryAttempts:            4,
			RetryBaseDelay:           1 * time.Second,
			RetryMaxDelay:            30 * time.Second,
			RequestsPerHour:          900,  // anonymous catalog budget
			RequestsPerHourWithToken: 9000, // app-token budget
			SchemaCacheTTL:           15 * time.Minute,
			SampleSize:               100,
		},
		Sync: SyncConfig{
			PageDelayFloor:     100 * time.Millisecond,
			EndOfDataFraction:  0.5,
			MaxBatches:         10000,
			MemorySoftLimit:    1 << 30, // 1GB
			MemoryHardLimit:    2 << 30, // 2GB
			StaleThresholdDays: 7,
			InterCheckDelay:    500 * time.Millisecond,
			CheckInterval:      6 * time.Hour,
			ExecuteInterval:    1 * time.Hour,
			MaxConcurrent:      3,
			MaxDuration:        45 * time.Minute,
		},
	}
}
