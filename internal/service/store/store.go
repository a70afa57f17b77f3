// Package store persists an embedding catalog to a durable key-value store.
//
// Every saved catalog carries the schema (extractor version and vector
// dimension) it was built with. Load only hands back a catalog whose schema
// matches what the caller currently expects; anything else is treated as
// absent so the caller rebuilds instead of mixing incompatible vectors.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ramon-reichert/simlens/internal/platform/logger"
	"github.com/ramon-reichert/simlens/internal/service/index"
	"github.com/ramon-reichert/simlens/internal/service/store/kv"
)

// FormatVersion is bumped whenever the encoded layout of PersistedIndex
// changes.
const FormatVersion = 1

var ErrPersistence = errors.New("persistence failure")

// PersistedIndex is the durable form of one catalog generation.
type PersistedIndex struct {
	Format        int               `msgpack:"format"`
	SchemaVersion string            `msgpack:"schema_version"`
	Dimension     int               `msgpack:"dimension"`
	Generation    string            `msgpack:"generation"`
	SavedAt       time.Time         `msgpack:"saved_at"`
	Records       []persistedRecord `msgpack:"records"`
}

type persistedRecord struct {
	ID        string            `msgpack:"id"`
	Vector    []float32         `msgpack:"vector"`
	CreatedAt time.Time         `msgpack:"created_at"`
	Metadata  map[string]string `msgpack:"metadata,omitempty"`
}

// Schema returns the schema the catalog was built with.
func (p *PersistedIndex) Schema() index.Schema {
	return index.Schema{Version: p.SchemaVersion, Dimension: p.Dimension}
}

// IndexRecords converts the persisted records back to index records.
func (p *PersistedIndex) IndexRecords() []index.Record {
	out := make([]index.Record, len(p.Records))
	for i, r := range p.Records {
		out[i] = index.Record{
			ID:        r.ID,
			Vector:    r.Vector,
			CreatedAt: r.CreatedAt,
			Metadata:  r.Metadata,
		}
	}
	return out
}

// Store reads and writes one catalog.
type Store struct {
	log       logger.Logger
	kv        kv.Store
	key       string
	retries   uint64
	retryBase time.Duration

	mu sync.Mutex
}

// Config holds configuration for creating a Store.
type Config struct {
	Log     logger.Logger
	KV      kv.Store
	Catalog string

	// Retries is the number of extra attempts for a failed write.
	Retries   uint64
	RetryBase time.Duration
}

// New creates a Store with the given configuration.
func New(cfg Config) *Store {
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.Catalog == "" {
		cfg.Catalog = "default"
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}

	return &Store{
		log:       cfg.Log,
		kv:        cfg.KV,
		key:       Key(cfg.Catalog),
		retries:   cfg.Retries,
		retryBase: cfg.RetryBase,
	}
}

// Key returns the storage key of a catalog.
func Key(catalog string) string {
	return "simlens/catalog/" + catalog
}

// Save writes the whole catalog under a single key. Concurrent saves on the
// same Store are serialized.
func (s *Store) Save(ctx context.Context, schema index.Schema, generation string, records []index.Record) error {
	for _, r := range records {
		if len(r.Vector) != schema.Dimension {
			return fmt.Errorf("record %q has %d dimensions, schema %s: %w",
				r.ID, len(r.Vector), schema, index.ErrSchemaMismatch)
		}
	}

	p := PersistedIndex{
		Format:        FormatVersion,
		SchemaVersion: schema.Version,
		Dimension:     schema.Dimension,
		Generation:    generation,
		SavedAt:       time.Now().UTC(),
		Records:       make([]persistedRecord, len(records)),
	}
	for i, r := range records {
		p.Records[i] = persistedRecord{
			ID:        r.ID,
			Vector:    r.Vector,
			CreatedAt: r.CreatedAt,
			Metadata:  r.Metadata,
		}
	}

	data, err := msgpack.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode catalog: %w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	attempt := 0

	b := retry.WithMaxRetries(s.retries, retry.NewFibonacci(s.retryBase))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := s.kv.Set(ctx, s.key, data); err != nil {
			s.log(ctx, "catalog write failed", "key", s.key, "attempt", attempt, "warning", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save catalog %s: %w: %w", s.key, ErrPersistence, err)
	}

	s.log(ctx, "catalog saved",
		"key", s.key,
		"schema", schema.String(),
		"records", len(records),
		"bytes", len(data),
		"elapsed", time.Since(start),
	)

	return nil
}

// Load returns the stored catalog when its schema equals expect. It returns
// nil without an error when nothing is stored, when the stored schema differs
// or when the stored payload cannot be decoded.
func (s *Store) Load(ctx context.Context, expect index.Schema) (*PersistedIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w: %w", s.key, ErrPersistence, err)
	}

	var p PersistedIndex
	if err := msgpack.Unmarshal(data, &p); err != nil {
		s.log(ctx, "discarding unreadable catalog", "key", s.key, "warning", err)
		return nil, nil
	}

	if p.Format != FormatVersion {
		s.log(ctx, "discarding catalog with unknown format",
			"key", s.key, "format", p.Format, "warning", "format mismatch")
		return nil, nil
	}

	if p.SchemaVersion != expect.Version || (expect.Dimension > 0 && p.Dimension != expect.Dimension) {
		s.log(ctx, "discarding catalog built with another schema",
			"key", s.key,
			"stored", p.Schema().String(),
			"expected", expect.String(),
			"warning", index.ErrSchemaMismatch,
		)
		return nil, nil
	}

	for _, r := range p.Records {
		if len(r.Vector) != p.Dimension {
			s.log(ctx, "discarding catalog with inconsistent vectors",
				"key", s.key, "id", r.ID, "warning", index.ErrSchemaMismatch)
			return nil, nil
		}
	}

	return &p, nil
}

// Restore loads the catalog into idx. It reports whether anything was
// restored; idx is left untouched when nothing matches.
func (s *Store) Restore(ctx context.Context, idx *index.Index, expect index.Schema) (bool, error) {
	p, err := s.Load(ctx, expect)
	if err != nil || p == nil {
		return false, err
	}

	if err := idx.Replace(p.Schema(), p.Generation, p.IndexRecords()); err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}

	s.log(ctx, "catalog restored", "key", s.key, "records", idx.Size(), "saved_at", p.SavedAt)
	return true, nil
}

// Clear wipes the persisted catalog.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear catalog %s: %w: %w", s.key, ErrPersistence, err)
	}

	s.log(ctx, "catalog cleared", "key", s.key)
	return nil
}
