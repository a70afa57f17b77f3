// Package index provides the in-memory embedding catalog for simlens.
package index

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSchemaMismatch = errors.New("schema mismatch")

// Schema identifies the extractor configuration that produced a set of
// vectors. Vectors from different schemas must never be compared.
type Schema struct {
	Version   string
	Dimension int
}

// String renders the schema as version/dimension.
func (s Schema) String() string {
	return fmt.Sprintf("%s/%d", s.Version, s.Dimension)
}

// Record is one indexed image and its feature vector.
type Record struct {
	ID        string
	Vector    []float32
	CreatedAt time.Time
	Metadata  map[string]string
}

// Index stores the records of one generation. Vectors are copied on insert
// and never modified afterwards, so a Record read from the index is safe to
// share between goroutines as long as callers treat Vector as read-only.
type Index struct {
	mu         sync.RWMutex
	schema     Schema
	dim        int
	generation string
	records    map[string]Record
	order      []string
}

// New creates an empty Index for the given schema. A zero Dimension lets the
// first inserted record establish it.
func New(schema Schema) *Index {
	return &Index{
		schema:     schema,
		dim:        schema.Dimension,
		generation: uuid.NewString(),
		records:    make(map[string]Record),
	}
}

// Upsert adds or replaces a record. A replaced record keeps its original
// position in the iteration order.
func (idx *Index) Upsert(r Record) error {
	if r.ID == "" {
		return errors.New("empty record id")
	}

	if len(r.Vector) == 0 {
		return fmt.Errorf("record %q has an empty vector: %w", r.ID, ErrSchemaMismatch)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dim == 0 && len(r.Vector) > 0 {
		idx.dim = len(r.Vector)
	}

	if len(r.Vector) != idx.dim {
		return fmt.Errorf("record %q has %d dimensions, index %s expects %d: %w",
			r.ID, len(r.Vector), idx.schema.Version, idx.dim, ErrSchemaMismatch)
	}

	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	r.Vector = vec

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	if _, exists := idx.records[r.ID]; !exists {
		idx.order = append(idx.order, r.ID)
	}
	idx.records[r.ID] = r

	return nil
}

// Replace swaps the whole content for a saved generation. The index is left
// untouched when any record does not fit the schema.
func (idx *Index) Replace(schema Schema, generation string, records []Record) error {
	next := New(schema)
	if generation != "" {
		next.generation = generation
	}

	for _, r := range records {
		if err := next.Upsert(r); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.schema = next.schema
	idx.dim = next.dim
	idx.generation = next.generation
	idx.records = next.records
	idx.order = next.order

	return nil
}

// Get retrieves a record by id. The returned vector is a copy.
func (idx *Index) Get(id string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	r, ok := idx.records[id]
	if !ok {
		return Record{}, false
	}

	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	r.Vector = vec

	return r, true
}

// Remove deletes a record from the index.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.records[id]; !ok {
		return
	}

	delete(idx.records, id)
	for i, oid := range idx.order {
		if oid == id {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			break
		}
	}
}

// Clear removes every record and starts a new generation under the current
// schema.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.clearLocked()
}

// Reset clears the index and adopts a new schema.
func (idx *Index) Reset(schema Schema) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.schema = schema
	idx.clearLocked()
}

func (idx *Index) clearLocked() {
	idx.records = make(map[string]Record)
	idx.order = nil
	idx.dim = idx.schema.Dimension
	idx.generation = uuid.NewString()
}

// Size returns the number of records in the index.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.records)
}

// Schema returns the schema of the current generation. Dimension reflects
// the established dimension when the schema left it open.
func (idx *Index) Schema() Schema {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := idx.schema
	s.Dimension = idx.dim
	return s
}

// Generation returns the id of the current generation.
func (idx *Index) Generation() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.generation
}

// All returns a sequence over the records in insertion order. Every call
// walks its own snapshot, so writes during iteration are never observed
// half-way.
func (idx *Index) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, r := range idx.Records() {
			if !yield(r) {
				return
			}
		}
	}
}

// Records returns a snapshot of all records in insertion order.
func (idx *Index) Records() []Record {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Record, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.records[id])
	}
	return out
}
