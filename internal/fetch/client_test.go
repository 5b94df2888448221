// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/models"
)

func testCatalogConfig() config.CatalogConfig {
	return config.CatalogConfig{
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  4,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  20 * time.Millisecond,
		// Budget high enough that the limiter never stalls tests.
		RequestsPerHour:          3_600_000,
		RequestsPerHourWithToken: 36_000_000,
		SchemaCacheTTL:           time.Minute,
		SampleSize:               10,
	}
}

func testDataset(endpoint string) models.Dataset {
	return models.Dataset{
		ID:          "crime-reports",
		Name:        "Crime Reports",
		Endpoint:    endpoint + "/resource/abcd-1234.json",
		NaturalKeys: []string{"case_number"},
		PageSize:    100,
		Priority:    95,
	}
}

// catalogServer simulates a paginated catalog resource with total records
// and an optional per-offset failure script.
type catalogServer struct {
	total int

	mu       sync.Mutex
	attempts map[string]int // "offset" -> request count
	// failFirst causes the first request at each listed offset to 500.
	failFirst map[int]bool
	// permanentAt returns 403 for any offset >= the value (when set).
	permanentAt int
}

func newCatalogServer(total int) *catalogServer {
	return &catalogServer{
		total:       total,
		attempts:    make(map[string]int),
		failFirst:   make(map[int]bool),
		permanentAt: -1,
	}
}

func (s *catalogServer) requests(offset int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[strconv.Itoa(offset)]
}

func (s *catalogServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/views/") {
			http.NotFound(w, r)
			return
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("$offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("$limit"))

		s.mu.Lock()
		key := strconv.Itoa(offset)
		s.attempts[key]++
		firstAttempt := s.attempts[key] == 1
		s.mu.Unlock()

		if s.permanentAt >= 0 && offset >= s.permanentAt {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if s.failFirst[offset] && firstAttempt {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		var sb strings.Builder
		sb.WriteString("[")
		n := 0
		for i := offset; i < s.total && n < limit; i++ {
			if n > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `{"case_number":"C-%06d"}`, i)
			n++
		}
		sb.WriteString("]")
		_, _ = w.Write([]byte(sb.String()))
	})
}

func TestFetchPageSuccess(t *testing.T) {
	var gotQuery, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/views/") {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		gotToken = r.Header.Get("X-App-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"case_number":"C-000001","description":"theft"}]`))
	}))
	defer srv.Close()

	cfg := testCatalogConfig()
	cfg.AppToken = "secret-token"
	c := NewClient(cfg)

	records, err := c.FetchPage(context.Background(), testDataset(srv.URL), 0, 50, nil)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0]["case_number"] != "C-000001" {
		t.Errorf("unexpected record: %+v", records[0])
	}
	if gotToken != "secret-token" {
		t.Errorf("app token header = %q, want secret-token", gotToken)
	}
	for _, want := range []string{"%24offset=0", "%24limit=50", "%24order=case_number"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestFetchPageRetriesTransient(t *testing.T) {
	s := newCatalogServer(10)
	s.failFirst[0] = true
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := NewClient(testCatalogConfig())
	records, err := c.FetchPage(context.Background(), testDataset(srv.URL), 0, 100, nil)
	if err != nil {
		t.Fatalf("FetchPage failed after retry: %v", err)
	}
	if len(records) != 10 {
		t.Errorf("got %d records, want 10", len(records))
	}
	if got := s.requests(0); got != 2 {
		t.Errorf("requests at offset 0 = %d, want 2 (one failure, one retry)", got)
	}
}

func TestFetchPageExhaustsRetries(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/views/") {
			http.NotFound(w, r)
			return
		}
		requests++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testCatalogConfig())
	_, err := c.FetchPage(context.Background(), testDataset(srv.URL), 0, 100, nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "max retry attempts") {
		t.Errorf("error = %v, want retry exhaustion", err)
	}
	if requests != 4 {
		t.Errorf("requests = %d, want 4 (RetryAttempts)", requests)
	}
}

func TestFetchPagePermanentAbortsImmediately(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/views/") {
			http.NotFound(w, r)
			return
		}
		requests++
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(testCatalogConfig())
	_, err := c.FetchPage(context.Background(), testDataset(srv.URL), 0, 100, nil)
	if !IsPermanent(err) {
		t.Fatalf("error = %v, want permanent", err)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (no retries on permanent errors)", requests)
	}
}

func TestFetchPageRateLimitCooldown(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/views/") {
			http.NotFound(w, r)
			return
		}
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"case_number":"C-000001"}]`))
	}))
	defer srv.Close()

	c := NewClient(testCatalogConfig())
	records, err := c.FetchPage(context.Background(), testDataset(srv.URL), 0, 100, nil)
	if err != nil {
		t.Fatalf("FetchPage failed after cooldown: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestFetchPageMalformedBodyIsTransient(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/views/") {
			http.NotFound(w, r)
			return
		}
		requests++
		if requests == 1 {
			_, _ = w.Write([]byte(`{"not": "an array`))
			return
		}
		_, _ = w.Write([]byte(`[{"case_number":"C-000001"}]`))
	}))
	defer srv.Close()

	c := NewClient(testCatalogConfig())
	records, err := c.FetchPage(context.Background(), testDataset(srv.URL), 0, 100, nil)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(records) != 1 || requests != 2 {
		t.Errorf("records = %d, requests = %d; want 1 record after 2 requests", len(records), requests)
	}
}

func TestMetadataDerivedEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "Crime Reports",
			"rowsUpdatedAt": 1756500000,
			"columns": [
				{"fieldName": "case_number", "cachedContents": {"non_null": "250000", "null": "0"}},
				{"fieldName": "description"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(testCatalogConfig())
	md, err := c.Metadata(context.Background(), testDataset(srv.URL))
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}

	if gotPath != "/api/views/abcd-1234.json" {
		t.Errorf("metadata path = %q, want /api/views/abcd-1234.json", gotPath)
	}
	if md.RowCount != 250000 {
		t.Errorf("row count = %d, want 250000", md.RowCount)
	}
	if md.LastModified == nil || md.LastModified.Unix() != 1756500000 {
		t.Errorf("last modified = %v, want unix 1756500000", md.LastModified)
	}
	if len(md.Columns) != 2 || md.Columns[0] != "case_number" {
		t.Errorf("columns = %v", md.Columns)
	}
}

func TestFetchPageContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/api/views/") {
			http.NotFound(w, r)
			return
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(testCatalogConfig())

	done := make(chan error, 1)
	go func() {
		_, err := c.FetchPage(ctx, testDataset(srv.URL), 0, 100, nil)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil || ctx.Err() == nil {
			t.Fatalf("expected context error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("FetchPage did not return after cancellation")
	}
}
