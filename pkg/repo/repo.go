// Package repo defines the generic Repository interface, list options, and
// the narrow Neo4j session abstraction the graph stores are built on.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no entity has the requested id.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic keyed store.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entity T) error
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List operations.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any // property equality filters
}
