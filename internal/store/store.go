// Package store is the document store accessor shared by every task and action.
// Records are plain key/value documents keyed by "_id"; updates address fields with
// dotted paths ("documents.pv.status").
package store

import (
	"context"
	"errors"
	"fmt"
)

// MaxBatchOps is the most operations a single Batch call accepts.
const MaxBatchOps = 500

// IDField is the key under which every record stores its identifier.
const IDField = "_id"

var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("record changed concurrently")
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d operations", MaxBatchOps)
)

// Record is a single stored document.
type Record map[string]any

// ID returns the record identifier, or "" when it has none.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// FilterOp is the comparison a Filter applies.
type FilterOp int

const (
	OpEqual FilterOp = iota
	OpIn
)

// Filter restricts a Query to records whose field matches.
type Filter struct {
	Field  string
	Op     FilterOp
	Values []any
}

// Eq matches records whose field equals v.
func Eq(field string, v any) Filter {
	return Filter{Field: field, Op: OpEqual, Values: []any{v}}
}

// In matches records whose field equals any of values.
func In[T any](field string, values ...T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Field: field, Op: OpIn, Values: vs}
}

// OpKind selects what a batch operation does.
type OpKind int

const (
	// OpSet creates the record or overwrites it entirely.
	OpSet OpKind = iota
	// OpUpdate sets the given fields on an existing record. A missing record fails the batch.
	OpUpdate
)

// Op is one write inside a Batch.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Fields     map[string]any
}

// Update builds an OpUpdate.
func Update(collection, id string, fields map[string]any) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

// Set builds an OpSet.
func Set(collection, id string, fields map[string]any) Op {
	return Op{Kind: OpSet, Collection: collection, ID: id, Fields: fields}
}

// Store is implemented by MongoStore and MemoryStore.
type Store interface {
	Get(ctx context.Context, collection, id string) (Record, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Record, error)
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	// UpdateIf applies fields only when every expect entry matches the stored record.
	UpdateIf(ctx context.Context, collection, id string, expect, fields map[string]any) error
	// Batch applies all ops or none of them.
	Batch(ctx context.Context, ops []Op) error
}

// BatchChunked splits ops into MaxBatchOps-sized batches and applies them in order.
// Atomicity holds per chunk only.
func BatchChunked(ctx context.Context, s Store, ops []Op) error {
	for i, chunk := range Chunk(ops, MaxBatchOps) {
		if err := s.Batch(ctx, chunk); err != nil {
			return fmt.Errorf("batch chunk %d: %w", i, err)
		}
	}
	return nil
}
