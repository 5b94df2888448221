// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package fetch implements the paginated catalog fetch client: per-page
// retrieval with retry/backoff, a shared hourly request budget, schema-aware
// query sanitization, count estimation, a circuit breaker wrapper, and the
// sequential page loop with backpressure and memory-pressure guards.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
)

// maxBodyBytes bounds response body reads. Pages of 50k wide records stay
// well under this; anything larger is a misbehaving upstream.
const maxBodyBytes = 512 << 20

// Query narrows a page request. All fields are optional; Order is filled
// with a deterministic sort by the client when empty so offset paging stays
// stable across retries.
type Query struct {
	Select []string
	Where  string
	Order  string
}

// DatasetMetadata is the best-effort result of the metadata probe.
type DatasetMetadata struct {
	RowCount     int64
	LastModified *time.Time
	Columns      []string
}

// Fetcher is the page-level contract the rest of the engine depends on.
// *Client is the direct implementation; *BreakerClient wraps any Fetcher
// with circuit breaking.
type Fetcher interface {
	FetchPage(ctx context.Context, ds models.Dataset, offset, limit int, q *Query) ([]models.Record, error)
	Metadata(ctx context.Context, ds models.Dataset) (*DatasetMetadata, error)
}

// Client talks to the upstream catalog API. A single Client is shared by all
// datasets so the hourly request budget is enforced process-wide.
type Client struct {
	http    *http.Client
	cfg     config.CatalogConfig
	limiter *rate.Limiter
	schemas *schemaCache
}

// NewClient builds a catalog client from configuration. The request budget
// is spread evenly across the hour with a small burst allowance.
func NewClient(cfg config.CatalogConfig) *Client {
	budget := cfg.RequestBudget()
	if budget < 1 {
		budget = 1
	}
	burst := budget / 100
	if burst < 1 {
		burst = 1
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(budget)/3600.0), burst),
		schemas: newSchemaCache(cfg.SchemaCacheTTL),
	}
}

// FetchPage retrieves one page of records. The query is sanitized against
// the cached schema probe first, then the request runs inside the retry
// loop: transient failures back off exponentially with jitter, rate limits
// wait out a dedicated cooldown, permanent failures abort immediately.
func (c *Client) FetchPage(ctx context.Context, ds models.Dataset, offset, limit int, q *Query) ([]models.Record, error) {
	q = c.sanitizeQuery(ctx, ds, q)

	u, err := buildPageURL(ds.Endpoint, offset, limit, q)
	if err != nil {
		return nil, &PermanentError{Message: fmt.Sprintf("invalid endpoint %q: %v", ds.Endpoint, err)}
	}

	var records []models.Record
	err = c.retry(ctx, ds.ID, func() error {
		body, reqErr := c.do(ctx, u)
		if reqErr != nil {
			return reqErr
		}
		var page []models.Record
		if jsonErr := json.Unmarshal(body, &page); jsonErr != nil {
			return &TransientError{Err: fmt.Errorf("malformed page body: %w", jsonErr)}
		}
		records = page
		return nil
	})

	metrics.FetchRequests.WithLabelValues(ds.ID, outcomeLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	metrics.FetchBatchSize.Observe(float64(len(records)))
	return records, nil
}

// Metadata probes the dataset-level metadata endpoint. Best-effort: callers
// degrade to the next estimation rung on failure, never treat this as fatal.
func (c *Client) Metadata(ctx context.Context, ds models.Dataset) (*DatasetMetadata, error) {
	u := metadataURL(ds)

	var md *DatasetMetadata
	err := c.retry(ctx, ds.ID, func() error {
		body, reqErr := c.do(ctx, u)
		if reqErr != nil {
			return reqErr
		}
		var payload viewsPayload
		if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil {
			return &TransientError{Err: fmt.Errorf("malformed metadata body: %w", jsonErr)}
		}
		md = payload.metadata()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return md, nil
}

// do issues one budgeted GET and returns the body, or a classified error.
func (c *Client) do(ctx context.Context, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &PermanentError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AppToken != "" {
		req.Header.Set("X-App-Token", c.cfg.AppToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, resp.Header, body)
	}
	return body, nil
}

// retry executes fn with bounded attempts. Transient errors back off
// exponentially with jitter up to the configured cap; rate limits wait out
// the cooldown instead. The context cancels any wait immediately.
func (c *Client) retry(ctx context.Context, dataset string, fn func() error) error {
	var err error
	delay := c.cfg.RetryBaseDelay

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if attempt < c.cfg.RetryAttempts-1 {
			var wait time.Duration
			var rl *RateLimitError
			if errors.As(err, &rl) {
				wait = c.cooldown(rl)
				metrics.RateLimitCooldowns.WithLabelValues(dataset).Inc()
				logging.Warn().Str("dataset", dataset).Dur("cooldown", wait).Msg("Rate limited, cooling down")
			} else {
				wait = withJitter(delay)
				delay *= 2
				if delay > c.cfg.RetryMaxDelay {
					delay = c.cfg.RetryMaxDelay
				}
				metrics.FetchRetries.WithLabelValues(dataset).Inc()
				logging.Warn().Err(err).Str("dataset", dataset).Int("attempt", attempt+1).Int("max_attempts", c.cfg.RetryAttempts).Dur("delay", wait).Msg("Retry attempt")
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// cooldown derives the rate-limit wait: the upstream Retry-After hint when
// present, otherwise ten budget slots, clamped between the retry base delay
// and twice the retry cap.
func (c *Client) cooldown(rl *RateLimitError) time.Duration {
	if rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	budget := c.cfg.RequestBudget()
	if budget < 1 {
		budget = 1
	}
	d := time.Duration(float64(time.Hour) / float64(budget) * 10)
	if d < c.cfg.RetryBaseDelay {
		d = c.cfg.RetryBaseDelay
	}
	if ceil := 2 * c.cfg.RetryMaxDelay; d > ceil {
		d = ceil
	}
	return d
}

// withJitter adds up to 25% random spread so concurrent jobs retrying
// against the same upstream do not synchronize.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + rand.N(d/4+1)
}

// buildPageURL composes the paginated collection request.
func buildPageURL(endpoint string, offset, limit int, q *Query) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	v := u.Query()
	v.Set("$offset", strconv.Itoa(offset))
	v.Set("$limit", strconv.Itoa(limit))
	if q != nil {
		if len(q.Select) > 0 {
			v.Set("$select", strings.Join(q.Select, ", "))
		}
		if q.Where != "" {
			v.Set("$where", q.Where)
		}
		if q.Order != "" {
			v.Set("$order", q.Order)
		}
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// metadataURL returns the dataset metadata endpoint, derived from the
// collection endpoint by the catalog convention when not configured
// explicitly: /resource/<id>.json sits next to /api/views/<id>.json.
func metadataURL(ds models.Dataset) string {
	if ds.MetadataEndpoint != "" {
		return ds.MetadataEndpoint
	}
	return strings.Replace(ds.Endpoint, "/resource/", "/api/views/", 1)
}

// viewsPayload is the subset of the catalog metadata document the engine
// reads. Row counts come either from an explicit rowCount field or from the
// per-column cached non-null/null tallies.
type viewsPayload struct {
	Name          string        `json:"name"`
	RowCount      int64         `json:"rowCount"`
	RowsUpdatedAt int64         `json:"rowsUpdatedAt"`
	Columns       []viewsColumn `json:"columns"`
}

type viewsColumn struct {
	FieldName      string `json:"fieldName"`
	CachedContents *struct {
		NonNull json.Number `json:"non_null"`
		Null    json.Number `json:"null"`
	} `json:"cachedContents"`
}

func (p *viewsPayload) metadata() *DatasetMetadata {
	md := &DatasetMetadata{RowCount: p.RowCount}
	if p.RowsUpdatedAt > 0 {
		t := time.Unix(p.RowsUpdatedAt, 0).UTC()
		md.LastModified = &t
	}
	for _, col := range p.Columns {
		if col.FieldName != "" {
			md.Columns = append(md.Columns, col.FieldName)
		}
	}
	if md.RowCount == 0 {
		for _, col := range p.Columns {
			if col.CachedContents == nil {
				continue
			}
			nonNull, _ := col.CachedContents.NonNull.Int64()
			null, _ := col.CachedContents.Null.Int64()
			if total := nonNull + null; total > md.RowCount {
				md.RowCount = total
			}
		}
	}
	return md
}
