// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator instances cache struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints via validator tags plus the
// cross-field rules tags cannot express. Errors name the offending field
// and the expected range so misconfiguration is actionable.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", describeFirst(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Catalog.RetryMaxDelay < cfg.Catalog.RetryBaseDelay {
		return fmt.Errorf("invalid configuration: catalog.retry_max_delay (%s) must be >= catalog.retry_base_delay (%s)",
			cfg.Catalog.RetryMaxDelay, cfg.Catalog.RetryBaseDelay)
	}

	if cfg.Sync.MemoryHardLimit > 0 && cfg.Sync.MemorySoftLimit > cfg.Sync.MemoryHardLimit {
		return fmt.Errorf("invalid configuration: sync.memory_soft_limit (%d) must be <= sync.memory_hard_limit (%d)",
			cfg.Sync.MemorySoftLimit, cfg.Sync.MemoryHardLimit)
	}

	if !cfg.Store.InMemory && cfg.Store.Path == "" {
		return errors.New("invalid configuration: store.path is required unless store.in_memory is set")
	}

	seen := make(map[string]bool, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		if seen[d.ID] {
			return fmt.Errorf("invalid configuration: duplicate dataset id %q", d.ID)
		}
		seen[d.ID] = true
	}

	return nil
}

// describeFirst renders the first tag violation with its namespace so the
// error points at a concrete config key.
func describeFirst(verrs validator.ValidationErrors) string {
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s (value: %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s (value: %v)", fe.Namespace(), fe.Tag(), fe.Value())
}
