// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package store persists engine state in an embedded BadgerDB: freshness
// records, sync logs, and ingested catalog rows. Documents are stored as
// JSON under typed key prefixes; this is deliberately a keyed document
// store, not a relational schema.
//
// Key layout:
//
//	fr:<dataset>                    freshness record (one per dataset)
//	sl:<dataset>:<started-nanos>    sync log, keyed by start time
//	row:<dataset>:<natural-key>     ingested catalog row
package store

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	prefixFreshness = "fr:"
	prefixSyncLog   = "sl:"
	prefixRow       = "row:"
)

// Store is the badger-backed persistence layer. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open creates or opens the store at the configured path. InMemory skips
// the filesystem entirely, used by tests and ephemeral deployments.
func Open(cfg config.StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Store opened")
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetFreshness loads the freshness record for one dataset.
func (s *Store) GetFreshness(datasetID string) (*models.FreshnessRecord, error) {
	var rec models.FreshnessRecord
	err := s.getJSON(prefixFreshness+datasetID, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutFreshness stores the freshness record, replacing any previous state.
func (s *Store) PutFreshness(rec *models.FreshnessRecord) error {
	if rec.DatasetID == "" {
		return errors.New("store: freshness record without dataset id")
	}
	return s.putJSON(prefixFreshness+rec.DatasetID, rec)
}

// ListFreshness returns all freshness records, ordered by dataset id.
func (s *Store) ListFreshness() ([]*models.FreshnessRecord, error) {
	var out []*models.FreshnessRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFreshness)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var rec models.FreshnessRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list freshness records: %w", err)
	}
	return out, nil
}

// AppendSyncLog stores one terminal sync log.
func (s *Store) AppendSyncLog(l *models.SyncLog) error {
	if l.DatasetID == "" {
		return errors.New("store: sync log without dataset id")
	}
	key := fmt.Sprintf("%s%s:%020d", prefixSyncLog, l.DatasetID, l.StartedAt.UnixNano())
	return s.putJSON(key, l)
}

// ListSyncLogs returns up to limit sync logs for a dataset, newest first.
func (s *Store) ListSyncLogs(datasetID string, limit int) ([]*models.SyncLog, error) {
	prefix := []byte(prefixSyncLog + datasetID + ":")
	var out []*models.SyncLog

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration: seek just past the prefix range, then walk
		// backwards while keys still match.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			item := it.Item()
			if !strings.HasPrefix(string(item.Key()), string(prefix)) {
				break
			}
			var l models.SyncLog
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &l)
			}); err != nil {
				return err
			}
			out = append(out, &l)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sync logs for %s: %w", datasetID, err)
	}
	return out, nil
}

// RecentSyncStats derives rolling sync health from the newest n logs:
// the fraction of fully successful syncs and the average wall-clock
// duration. Returns (0, 0) when no history exists.
func (s *Store) RecentSyncStats(datasetID string, n int) (successRate float64, avgDuration time.Duration, err error) {
	logs, err := s.ListSyncLogs(datasetID, n)
	if err != nil {
		return 0, 0, err
	}
	if len(logs) == 0 {
		return 0, 0, nil
	}

	var successes int
	var total time.Duration
	for _, l := range logs {
		if l.Status == models.SyncStatusSuccess {
			successes++
		}
		total += l.Duration()
	}
	return float64(successes) / float64(len(logs)), total / time.Duration(len(logs)), nil
}

// upsertChunkSize keeps each transaction well below badger's size limit
// even for wide records.
const upsertChunkSize = 500

// UpsertRecords writes a batch of catalog rows keyed by natural key,
// returning how many were new. Re-delivered records overwrite in place,
// which keeps the sink idempotent across retries. Large batches are split
// across transactions to stay under badger's transaction size limit.
func (s *Store) UpsertRecords(ds models.Dataset, records []models.Record) (int64, error) {
	var added int64
	for start := 0; start < len(records); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(records) {
			end = len(records)
		}
		n, err := s.upsertChunk(ds, records[start:end])
		added += n
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

func (s *Store) upsertChunk(ds models.Dataset, records []models.Record) (added int64, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			key := []byte(prefixRow + ds.ID + ":" + naturalKey(ds, rec))

			if _, getErr := txn.Get(key); errors.Is(getErr, badger.ErrKeyNotFound) {
				added++
			} else if getErr != nil {
				return getErr
			}

			val, jsonErr := json.Marshal(rec)
			if jsonErr != nil {
				return fmt.Errorf("marshal record: %w", jsonErr)
			}
			if setErr := txn.Set(key, val); setErr != nil {
				return setErr
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %d records for %s: %w", len(records), ds.ID, err)
	}
	return added, nil
}

// CountRecords counts stored rows for a dataset. Key-only iteration, no
// value fetches.
func (s *Store) CountRecords(datasetID string) (int64, error) {
	prefix := []byte(prefixRow + datasetID + ":")
	var count int64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count records for %s: %w", datasetID, err)
	}
	return count, nil
}

// naturalKey derives the upsert key for a record: the configured natural
// key values joined, or a hash of the whole record when the dataset
// declares no natural keys (stable for identical payloads, so redelivery
// still overwrites rather than duplicates).
func naturalKey(ds models.Dataset, rec models.Record) string {
	if len(ds.NaturalKeys) > 0 {
		parts := make([]string, 0, len(ds.NaturalKeys))
		complete := true
		for _, f := range ds.NaturalKeys {
			v, ok := rec[f]
			if !ok || v == nil || v == "" {
				complete = false
				break
			}
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		if complete {
			return strings.Join(parts, "|")
		}
	}

	// Hash fallback: canonical JSON of the record.
	b, err := json.Marshal(rec)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", rec))
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("h:%016x", h.Sum64())
}

// getJSON loads and unmarshals one document.
func (s *Store) getJSON(key string, dst interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, dst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

// putJSON marshals and stores one document.
func (s *Store) putJSON(key string, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
