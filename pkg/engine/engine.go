// Package engine defines the table-engine contract the memory layer is
// built on: durable columnar-style storage with vector search, predicate
// filtering and bulk deletes. Backends live in subpackages.
package engine

import (
	"context"
	"errors"

	"github.com/agentmem/agentmem/pkg/filter"
)

// Common backend errors. Backends wrap their driver errors but surface
// these sentinels where the condition is recognizable.
var (
	// ErrTableNotFound is returned when the addressed table does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrTableExists is returned by CreateTable for duplicate names.
	ErrTableExists = errors.New("table already exists")

	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrNoIndex is returned by Search when an index-backed search is
	// requested but no usable index exists.
	ErrNoIndex = errors.New("no index available")
)

// Row is the storage shape of one memory entry. Timestamps are unix
// seconds; LastAccessedAt == 0 means the entry was never accessed and is
// stored as NULL.
type Row struct {
	ID             string
	Content        string
	Vector         []float32
	Type           string
	Source         string
	Importance     float64
	Tags           []string
	Metadata       map[string]any
	CreatedAt      float64
	LastAccessedAt float64
}

// Hit is a search result: a row plus its distance from the query vector.
// Distances ascend; 0 is an exact match under the cosine convention.
type Hit struct {
	Row
	Distance float64
}

// SearchOptions controls a vector search.
type SearchOptions struct {
	// K is the maximum number of hits to return.
	K int
	// Predicate restricts candidate rows; nil matches everything.
	Predicate *filter.Expr
	// UseIndex requests the approximate index. Backends fall back to an
	// exact scan when no index is ready.
	UseIndex bool
}

// IndexParams configures an index build.
type IndexParams struct {
	// Partitions is the number of coarse partitions (IVF lists). Zero
	// lets the backend derive a value from the row count.
	Partitions int
}

// TableInfo describes a stored table.
type TableInfo struct {
	Name      string
	Dimension int
	CreatedAt float64
}

// TableEngine is the storage substrate consumed by the memory layer. One
// table backs one collection. Implementations must be safe for concurrent
// use by multiple goroutines sharing a single handle.
type TableEngine interface {
	// CreateTable creates a table for vectors of the given dimension.
	CreateTable(ctx context.Context, name string, dim int) error
	// DropTable removes a table, its rows and any index artifacts.
	// Dropping a missing table returns ErrTableNotFound.
	DropTable(ctx context.Context, name string) error
	// TableNames lists existing tables.
	TableNames(ctx context.Context) ([]string, error)
	// TableInfo returns table metadata.
	TableInfo(ctx context.Context, name string) (TableInfo, error)

	// Insert writes one row atomically.
	Insert(ctx context.Context, table string, row Row) error
	// InsertBatch writes rows in a single transaction: all or nothing.
	InsertBatch(ctx context.Context, table string, rows []Row) error
	// Get fetches a row by id; found reports whether it exists.
	Get(ctx context.Context, table, id string) (Row, bool, error)
	// Search returns up to K rows ordered by ascending distance, ties
	// broken by id.
	Search(ctx context.Context, table string, vector []float32, opts SearchOptions) ([]Hit, error)
	// Scan returns rows matching the predicate in insertion order.
	Scan(ctx context.Context, table string, pred *filter.Expr) ([]Row, error)
	// Delete removes matching rows and returns the count removed. A nil
	// predicate is rejected; deletes are always scoped.
	Delete(ctx context.Context, table string, pred *filter.Expr) (int64, error)
	// UpdateLastAccessed stamps the given rows' last-access time.
	UpdateLastAccessed(ctx context.Context, table string, ids []string, at float64) error
	// RowCount counts rows, optionally restricted by predicate.
	RowCount(ctx context.Context, table string, pred *filter.Expr) (int64, error)

	// BuildIndex (re)builds the table's vector index. It may run long and
	// must not block concurrent reads or writes on the table.
	BuildIndex(ctx context.Context, table string, params IndexParams) error

	// Close releases the engine handle.
	Close() error
}
