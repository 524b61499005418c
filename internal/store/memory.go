package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps collections in process memory. It backs tests and the
// local development mode.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]map[string]any)}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Encode(doc)
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized := make([]Filter, len(filters))
	for i, f := range filters {
		nf := Filter{Field: f.Field, Op: f.Op, Values: make([]any, len(f.Values))}
		for j, v := range f.Values {
			nv, err := normalizeValue(v)
			if err != nil {
				return nil, err
			}
			nf.Values[j] = nv
		}
		normalized[i] = nf
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Record
	for _, id := range ids {
		doc := s.collections[collection][id]
		if !matches(doc, normalized) {
			continue
		}
		r, err := Encode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func matches(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, _ := getPath(doc, f.Field)
		hit := false
		for _, want := range f.Values {
			if valuesEqual(v, want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Batch(ctx, []Op{Set(collection, id, fields)})
}

func (s *MemoryStore) UpdateIf(ctx context.Context, collection, id string, expect, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want := make([]Filter, 0, len(expect))
	for k, v := range expect {
		nv, err := normalizeValue(v)
		if err != nil {
			return err
		}
		want = append(want, Filter{Field: k, Op: OpEqual, Values: []any{nv}})
	}
	prepared, err := prepareFields(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if !matches(doc, want) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
	}
	for k, v := range prepared {
		setPath(doc, k, v)
	}
	return nil
}

func (s *MemoryStore) Batch(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ops) > MaxBatchOps {
		return ErrBatchTooLarge
	}
	prepared := make([]map[string]any, len(ops))
	for i, op := range ops {
		fields, err := prepareFields(op.Fields)
		if err != nil {
			return err
		}
		prepared[i] = fields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every reference before the first write so a bad op leaves nothing behind.
	pending := map[string]bool{}
	for _, op := range ops {
		key := op.Collection + "/" + op.ID
		if op.ID == "" {
			return fmt.Errorf("%s: empty id", op.Collection)
		}
		if op.Kind == OpSet {
			pending[key] = true
			continue
		}
		if _, ok := s.collections[op.Collection][op.ID]; !ok && !pending[key] {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
	}

	for i, op := range ops {
		coll, ok := s.collections[op.Collection]
		if !ok {
			coll = make(map[string]map[string]any)
			s.collections[op.Collection] = coll
		}
		if op.Kind == OpSet {
			doc := map[string]any{}
			for k, v := range prepared[i] {
				setPath(doc, k, v)
			}
			doc[IDField] = op.ID
			coll[op.ID] = doc
			continue
		}
		doc := coll[op.ID]
		for k, v := range prepared[i] {
			setPath(doc, k, v)
		}
	}
	return nil
}

func prepareFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == IDField {
			continue
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}
