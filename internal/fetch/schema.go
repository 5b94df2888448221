// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/models"
)

// fallbackSortField is the catalog system row identifier, present on every
// dataset, used when no configured sort field survives schema validation.
const fallbackSortField = ":id"

// schemaCache holds time-limited column sets per dataset, filled from the
// metadata probe. A cache miss or expired entry triggers one probe; probe
// failure degrades to pass-through sanitization rather than blocking fetches.
type schemaCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]schemaEntry
}

type schemaEntry struct {
	columns   map[string]struct{}
	fetchedAt time.Time
}

func newSchemaCache(ttl time.Duration) *schemaCache {
	return &schemaCache{
		ttl:     ttl,
		entries: make(map[string]schemaEntry),
	}
}

func (s *schemaCache) get(id string) (map[string]struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || time.Since(e.fetchedAt) > s.ttl {
		return nil, false
	}
	return e.columns, true
}

func (s *schemaCache) put(id string, columns map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = schemaEntry{columns: columns, fetchedAt: time.Now()}
}

// columns returns the cached upstream column set, probing metadata on a
// cache miss. The second return is false when no schema is available.
// Probe failures are cached as nil entries so a metadata outage does not
// add a failing probe to every page fetch until the TTL expires.
func (c *Client) columns(ctx context.Context, ds models.Dataset) (map[string]struct{}, bool) {
	if cols, ok := c.schemas.get(ds.ID); ok {
		return cols, cols != nil
	}

	md, err := c.Metadata(ctx, ds)
	if err != nil || len(md.Columns) == 0 {
		if err != nil {
			logging.Debug().Err(err).Str("dataset", ds.ID).Msg("Schema probe unavailable")
		}
		c.schemas.put(ds.ID, nil)
		return nil, false
	}

	cols := make(map[string]struct{}, len(md.Columns))
	for _, name := range md.Columns {
		cols[name] = struct{}{}
	}
	c.schemas.put(ds.ID, cols)
	return cols, true
}

// sanitizeQuery returns a copy of q with a deterministic sort order applied
// and, when a schema probe is available, unknown field references removed:
// unknown selected fields are dropped, an unknown sort is replaced with the
// system row id, and a filter on an unknown field is dropped entirely. Each
// substitution is surfaced as a warning instead of failing the fetch.
func (c *Client) sanitizeQuery(ctx context.Context, ds models.Dataset, q *Query) *Query {
	out := &Query{}
	if q != nil {
		out.Select = append([]string(nil), q.Select...)
		out.Where = q.Where
		out.Order = q.Order
	}
	if out.Order == "" {
		out.Order = ds.OrderClause()
	}

	cols, ok := c.columns(ctx, ds)
	if !ok {
		// No schema to validate against; keep the query as given.
		if out.Order == "" {
			out.Order = fallbackSortField
		}
		return out
	}

	if len(out.Select) > 0 {
		kept := out.Select[:0]
		for _, f := range out.Select {
			if fieldKnown(cols, f) {
				kept = append(kept, f)
			} else {
				logging.Warn().Str("dataset", ds.ID).Str("field", f).Msg("Dropping unknown selected field")
			}
		}
		out.Select = kept
	}

	if out.Order != "" && !orderKnown(cols, out.Order) {
		logging.Warn().Str("dataset", ds.ID).Str("order", out.Order).Str("fallback", fallbackSortField).Msg("Replacing unknown sort field")
		out.Order = fallbackSortField
	}
	if out.Order == "" {
		out.Order = fallbackSortField
	}

	if out.Where != "" {
		if f := leadingField(out.Where); f != "" && !fieldKnown(cols, f) {
			logging.Warn().Str("dataset", ds.ID).Str("field", f).Msg("Dropping filter on unknown field")
			out.Where = ""
		}
	}

	return out
}

// fieldKnown accepts schema columns, system fields (leading colon), and
// function expressions, which reference no plain column.
func fieldKnown(cols map[string]struct{}, field string) bool {
	field = strings.TrimSpace(field)
	if field == "" || strings.HasPrefix(field, ":") || strings.Contains(field, "(") {
		return true
	}
	// Strip an "AS alias" suffix from select expressions.
	if i := strings.Index(strings.ToUpper(field), " AS "); i > 0 {
		field = strings.TrimSpace(field[:i])
	}
	_, ok := cols[field]
	return ok
}

// orderKnown validates every comma-separated sort term, ignoring ASC/DESC
// suffixes.
func orderKnown(cols map[string]struct{}, order string) bool {
	for _, term := range strings.Split(order, ",") {
		term = strings.TrimSpace(term)
		term = strings.TrimSuffix(term, " DESC")
		term = strings.TrimSuffix(term, " ASC")
		if !fieldKnown(cols, strings.TrimSpace(term)) {
			return false
		}
	}
	return true
}

// leadingField extracts the first identifier of a filter expression, enough
// to catch the common "field op value" form. Complex expressions pass
// through unvalidated; the upstream rejects them with a permanent error.
func leadingField(where string) string {
	where = strings.TrimSpace(where)
	end := len(where)
	for i, r := range where {
		if r == ' ' || r == '=' || r == '>' || r == '<' || r == '(' {
			end = i
			break
		}
	}
	if end < len(where) && where[end] == '(' {
		// Function call, not a plain column reference.
		return ""
	}
	f := where[:end]
	if strings.ContainsAny(f, "'\"0123456789") {
		return ""
	}
	return f
}
