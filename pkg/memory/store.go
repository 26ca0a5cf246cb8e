package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentmem/agentmem/pkg/embedding"
	"github.com/agentmem/agentmem/pkg/engine"
	"github.com/agentmem/agentmem/pkg/engine/sqliteengine"
)

// Store owns one table engine handle and the collections living on it.
// The handle is shared: many collections and many goroutines may operate
// through one Store concurrently.
type Store struct {
	eng    engine.TableEngine
	logger Logger

	mu          sync.Mutex
	closed      bool
	collections map[string]*Collection
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger. Default is no logging.
func WithLogger(l Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates a Store backed by a SQLite database at path.
func Open(path string, opts ...Option) (*Store, error) {
	eng, err := sqliteengine.Open(path)
	if err != nil {
		return nil, wrapOp("open", "", storageErr(err))
	}
	return NewStore(eng, opts...), nil
}

// NewStore creates a Store on an already-open table engine, e.g. a
// Postgres engine from pkg/engine/pgengine.
func NewStore(eng engine.TableEngine, opts ...Option) *Store {
	s := &Store{
		eng:         eng,
		logger:      NopLogger(),
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CollectionConfig shapes creation of a collection.
type CollectionConfig struct {
	Name string

	// Provider embeds content at add and query time. When set, its
	// dimension is authoritative.
	Provider embedding.Provider

	// Dimension is required when no provider is configured (callers then
	// supply vectors directly). When both are set they must agree.
	Dimension int

	// Schema validates inbound entries; nil means the default open
	// schema.
	Schema *Schema

	// UpdateLastAccessedOnQuery stamps returned entries with the query
	// time, feeding the pruning engine's idle clause.
	UpdateLastAccessedOnQuery bool

	// MinIndexRows and StaleFraction tune the index lifecycle; zero
	// selects the defaults.
	MinIndexRows  int64
	StaleFraction float64

	// Recreate drops any existing collection of this name first.
	Recreate bool
}

// GetOrCreateCollection returns the named collection, creating it if
// missing. The call is idempotent: repeated calls with the same name
// return the same collection, unless Recreate asks for a destructive
// rebuild.
func (s *Store) GetOrCreateCollection(ctx context.Context, cfg CollectionConfig) (*Collection, error) {
	const op = "get_or_create_collection"

	if cfg.Name == "" {
		return nil, wrapOp(op, "", fmt.Errorf("%w: collection name cannot be empty", ErrInvalidConfig))
	}
	dim, err := resolveDimension(cfg)
	if err != nil {
		return nil, wrapOp(op, cfg.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, wrapOp(op, cfg.Name, ErrStoreClosed)
	}

	if cfg.Recreate {
		if err := s.dropLocked(ctx, cfg.Name); err != nil {
			return nil, wrapOp(op, cfg.Name, err)
		}
	} else if c, ok := s.collections[cfg.Name]; ok {
		if c.dim != dim {
			return nil, wrapOp(op, cfg.Name, fmt.Errorf("%w: collection exists with dimension %d, requested %d",
				ErrInvalidConfig, c.dim, dim))
		}
		return c, nil
	}

	info, err := s.eng.TableInfo(ctx, cfg.Name)
	switch {
	case err == nil:
		if info.Dimension != dim {
			return nil, wrapOp(op, cfg.Name, fmt.Errorf("%w: collection exists with dimension %d, requested %d",
				ErrInvalidConfig, info.Dimension, dim))
		}
	case errors.Is(err, engine.ErrTableNotFound):
		if err := s.eng.CreateTable(ctx, cfg.Name, dim); err != nil && !errors.Is(err, engine.ErrTableExists) {
			return nil, wrapOp(op, cfg.Name, storageErr(err))
		}
	default:
		return nil, wrapOp(op, cfg.Name, storageErr(err))
	}

	schema := DefaultSchema()
	if cfg.Schema != nil {
		schema = *cfg.Schema
	}

	c := &Collection{
		name:        cfg.Name,
		dim:         dim,
		eng:         s.eng,
		provider:    cfg.Provider,
		schema:      schema,
		logger:      s.logger,
		trackAccess: cfg.UpdateLastAccessedOnQuery,
		ctrl:        newIndexController(cfg.Name, s.eng, s.logger, cfg.MinIndexRows, cfg.StaleFraction),
		now:         time.Now,
	}
	// Existing rows may already warrant an index.
	c.ctrl.schedule()
	s.collections[cfg.Name] = c

	s.logger.Info("collection ready", "collection", cfg.Name, "dimension", dim)
	return c, nil
}

// GetCollection returns an already-open collection by name, or
// ErrNotFound if this store has not opened it.
func (s *Store) GetCollection(name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, wrapOp("get_collection", name, ErrStoreClosed)
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, wrapOp("get_collection", name, ErrNotFound)
	}
	return c, nil
}

func resolveDimension(cfg CollectionConfig) (int, error) {
	if cfg.Provider != nil {
		dim := cfg.Provider.Dim()
		if dim <= 0 {
			return 0, fmt.Errorf("%w: provider reports dimension %d", ErrInvalidConfig, dim)
		}
		if cfg.Dimension > 0 && cfg.Dimension != dim {
			return 0, fmt.Errorf("%w: configured dimension %d conflicts with provider dimension %d",
				ErrInvalidConfig, cfg.Dimension, dim)
		}
		return dim, nil
	}
	if cfg.Dimension <= 0 {
		return 0, fmt.Errorf("%w: dimension is required without an embedding provider", ErrInvalidConfig)
	}
	return cfg.Dimension, nil
}

// DeleteCollection removes the collection, all its entries and its
// index. Deleting a collection that does not exist is not an error.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	const op = "delete_collection"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapOp(op, name, ErrStoreClosed)
	}
	if err := s.dropLocked(ctx, name); err != nil {
		return wrapOp(op, name, err)
	}
	return nil
}

func (s *Store) dropLocked(ctx context.Context, name string) error {
	if c, ok := s.collections[name]; ok {
		c.ctrl.Close()
		delete(s.collections, name)
	}
	if err := s.eng.DropTable(ctx, name); err != nil && !errors.Is(err, engine.ErrTableNotFound) {
		return storageErr(err)
	}
	return nil
}

// ListCollections returns the names of all collections in the store.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	const op = "list_collections"

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, wrapOp(op, "", ErrStoreClosed)
	}

	names, err := s.eng.TableNames(ctx)
	if err != nil {
		return nil, wrapOp(op, "", storageErr(err))
	}
	return names, nil
}

// Close stops all index controllers and closes the engine handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, c := range s.collections {
		c.ctrl.Close()
	}
	s.collections = nil

	if err := s.eng.Close(); err != nil {
		return wrapOp("close", "", storageErr(err))
	}
	return nil
}
