// Package sqliteengine implements the table engine contract on SQLite
// (modernc.org/sqlite, pure Go). One collection maps to one table with a
// BLOB vector column; vector search is an exact scan unless an IVF index
// has been built for the table.
package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentmem/agentmem/internal/encoding"
	"github.com/agentmem/agentmem/pkg/engine"
	"github.com/agentmem/agentmem/pkg/filter"
	"github.com/agentmem/agentmem/pkg/index"

	_ "modernc.org/sqlite" // SQLite driver
)

const metaTable = "agentmem_collections"

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// rowColumns is the column list every row query selects, in scan order.
const rowColumns = `id, content, vector, "type", source, importance_score, tags, metadata, timestamp_created, timestamp_last_accessed`

var _ engine.TableEngine = (*Engine)(nil)

// Engine is a SQLite-backed table engine. A single Engine handle is safe
// to share across collections and goroutines.
type Engine struct {
	db *sql.DB

	mu      sync.RWMutex
	closed  bool
	indexes map[string]*index.IVF
	dims    map[string]int
}

// Open opens (or creates) the database at path and prepares the
// collection metadata table.
func Open(path string) (*Engine, error) {
	if path == "" {
		return nil, errors.New("sqliteengine: database path cannot be empty")
	}

	// WAL for read concurrency, busy_timeout so concurrent writers queue
	// instead of failing.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqliteengine: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	e := &Engine{
		db:      db,
		indexes: make(map[string]*index.IVF),
		dims:    make(map[string]int),
	}
	if err := e.createMetaTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) createMetaTable() error {
	_, err := e.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			created_at REAL NOT NULL
		)`, metaTable))
	if err != nil {
		return fmt.Errorf("sqliteengine: failed to create metadata table: %w", err)
	}
	return nil
}

func physName(table string) string {
	return `"mem_` + table + `"`
}

func (e *Engine) guard() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return engine.ErrEngineClosed
	}
	return nil
}

// CreateTable registers the table in the metadata table and creates the
// backing rows table.
func (e *Engine) CreateTable(ctx context.Context, name string, dim int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("sqliteengine: invalid table name %q", name)
	}
	if dim <= 0 {
		return fmt.Errorf("sqliteengine: dimension must be positive, got %d", dim)
	}

	var exists bool
	err := e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE name = ?)", metaTable), name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqliteengine: failed to check table existence: %w", err)
	}
	if exists {
		return fmt.Errorf("sqliteengine: %w: %s", engine.ErrTableExists, name)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqliteengine: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (name, dimension, created_at) VALUES (?, ?, ?)", metaTable),
		name, dim, unixNow()); err != nil {
		return fmt.Errorf("sqliteengine: failed to register table: %w", err)
	}

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '',
			vector BLOB NOT NULL,
			"type" TEXT NOT NULL DEFAULT 'memory',
			source TEXT,
			importance_score REAL NOT NULL DEFAULT 0.5,
			tags TEXT,
			metadata TEXT,
			timestamp_created REAL NOT NULL,
			timestamp_last_accessed REAL
		)`, physName(name))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("sqliteengine: failed to create table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS "idx_mem_%s_created" ON %s(timestamp_created)`, name, physName(name))); err != nil {
		return fmt.Errorf("sqliteengine: failed to create timestamp index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqliteengine: failed to commit: %w", err)
	}

	e.mu.Lock()
	e.dims[name] = dim
	e.mu.Unlock()
	return nil
}

// DropTable removes the table, its rows and its in-memory index.
func (e *Engine) DropTable(ctx context.Context, name string) error {
	if err := e.guard(); err != nil {
		return err
	}

	res, err := e.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE name = ?", metaTable), name)
	if err != nil {
		return fmt.Errorf("sqliteengine: failed to unregister table: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("sqliteengine: %w: %s", engine.ErrTableNotFound, name)
	}

	if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+physName(name)); err != nil {
		return fmt.Errorf("sqliteengine: failed to drop table: %w", err)
	}

	e.mu.Lock()
	delete(e.indexes, name)
	delete(e.dims, name)
	e.mu.Unlock()
	return nil
}

// TableNames lists registered tables.
func (e *Engine) TableNames(ctx context.Context) ([]string, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT name FROM %s ORDER BY name", metaTable))
	if err != nil {
		return nil, fmt.Errorf("sqliteengine: failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqliteengine: failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableInfo returns registered table metadata.
func (e *Engine) TableInfo(ctx context.Context, name string) (engine.TableInfo, error) {
	if err := e.guard(); err != nil {
		return engine.TableInfo{}, err
	}

	info := engine.TableInfo{Name: name}
	err := e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT dimension, created_at FROM %s WHERE name = ?", metaTable), name).
		Scan(&info.Dimension, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.TableInfo{}, fmt.Errorf("sqliteengine: %w: %s", engine.ErrTableNotFound, name)
	}
	if err != nil {
		return engine.TableInfo{}, fmt.Errorf("sqliteengine: failed to read table info: %w", err)
	}
	return info, nil
}

func (e *Engine) dimension(ctx context.Context, table string) (int, error) {
	e.mu.RLock()
	dim, ok := e.dims[table]
	e.mu.RUnlock()
	if ok {
		return dim, nil
	}
	info, err := e.TableInfo(ctx, table)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.dims[table] = info.Dimension
	e.mu.Unlock()
	return info.Dimension, nil
}

// Insert writes one row.
func (e *Engine) Insert(ctx context.Context, table string, row engine.Row) error {
	if err := e.guard(); err != nil {
		return err
	}
	dim, err := e.dimension(ctx, table)
	if err != nil {
		return err
	}
	if len(row.Vector) != dim {
		return fmt.Errorf("sqliteengine: vector dimension %d does not match table dimension %d", len(row.Vector), dim)
	}

	args, err := insertArgs(row)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, insertSQL(table), args...); err != nil {
		return fmt.Errorf("sqliteengine: failed to insert row: %w", err)
	}

	e.indexAdd(table, row.ID, row.Vector)
	return nil
}

// InsertBatch writes rows in a single transaction.
func (e *Engine) InsertBatch(ctx context.Context, table string, rows []engine.Row) error {
	if err := e.guard(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	dim, err := e.dimension(ctx, table)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqliteengine: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table))
	if err != nil {
		return fmt.Errorf("sqliteengine: failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range rows {
		if len(row.Vector) != dim {
			return fmt.Errorf("sqliteengine: row %d: vector dimension %d does not match table dimension %d", i, len(row.Vector), dim)
		}
		args, err := insertArgs(row)
		if err != nil {
			return fmt.Errorf("sqliteengine: row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("sqliteengine: row %d: failed to insert: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqliteengine: failed to commit batch: %w", err)
	}

	for _, row := range rows {
		e.indexAdd(table, row.ID, row.Vector)
	}
	return nil
}

func insertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, physName(table), rowColumns)
}

func insertArgs(row engine.Row) ([]any, error) {
	vectorBytes, err := encoding.EncodeVector(row.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	tagsJSON, err := encoding.EncodeTags(row.Tags)
	if err != nil {
		return nil, err
	}
	metadataJSON, err := encoding.EncodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}

	return []any{
		row.ID,
		row.Content,
		vectorBytes,
		row.Type,
		nullIfEmpty(row.Source),
		row.Importance,
		nullIfEmpty(tagsJSON),
		nullIfEmpty(metadataJSON),
		row.CreatedAt,
		nullIfZero(row.LastAccessedAt),
	}, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

// Get fetches a row by id.
func (e *Engine) Get(ctx context.Context, table, id string) (engine.Row, bool, error) {
	if err := e.guard(); err != nil {
		return engine.Row{}, false, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", rowColumns, physName(table))
	row, err := scanRow(e.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Row{}, false, nil
	}
	if err != nil {
		return engine.Row{}, false, fmt.Errorf("sqliteengine: failed to get row: %w", err)
	}
	return row, true, nil
}

// Scan returns rows matching the predicate in insertion order (ids are
// monotonic, so id order is insertion order).
func (e *Engine) Scan(ctx context.Context, table string, pred *filter.Expr) ([]engine.Row, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}

	where, args, err := whereClause(pred)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id", rowColumns, physName(table), where)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteengine: scan failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []engine.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqliteengine: failed to scan row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Search returns the K nearest rows by cosine distance. With UseIndex it
// consults the table's IVF index first and falls back to an exact scan
// when the index yields too few matching candidates.
func (e *Engine) Search(ctx context.Context, table string, vector []float32, opts engine.SearchOptions) ([]engine.Hit, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := encoding.ValidateVector(vector); err != nil {
		return nil, fmt.Errorf("sqliteengine: invalid query vector: %w", err)
	}
	dim, err := e.dimension(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("sqliteengine: query vector dimension %d does not match table dimension %d", len(vector), dim)
	}
	k := opts.K
	if k <= 0 {
		k = 10
	}

	if opts.UseIndex {
		e.mu.RLock()
		idx := e.indexes[table]
		e.mu.RUnlock()
		if idx != nil && idx.Trained() {
			// Over-fetch so predicate filtering still leaves K rows.
			ids, _, err := idx.Search(vector, k*4)
			if err == nil && len(ids) > 0 {
				hits, err := e.fetchHits(ctx, table, ids, vector, opts.Predicate)
				if err != nil {
					return nil, err
				}
				if len(hits) >= k {
					return hits[:k], nil
				}
			}
		}
	}

	rows, err := e.Scan(ctx, table, opts.Predicate)
	if err != nil {
		return nil, err
	}
	hits := make([]engine.Hit, len(rows))
	for i, row := range rows {
		hits[i] = engine.Hit{Row: row, Distance: index.CosineDistance(vector, row.Vector)}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// fetchHits loads candidate rows by id, applies the predicate in SQL and
// scores them exactly.
func (e *Engine) fetchHits(ctx context.Context, table string, ids []string, vector []float32, pred *filter.Expr) ([]engine.Hit, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)", rowColumns, physName(table), placeholders)
	if pred != nil {
		clause, predArgs, err := pred.ToSQL(filter.SQLite, 0)
		if err != nil {
			return nil, fmt.Errorf("sqliteengine: bad predicate: %w", err)
		}
		query += " AND (" + clause + ")"
		args = append(args, predArgs...)
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteengine: candidate fetch failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []engine.Hit
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqliteengine: failed to scan candidate: %w", err)
		}
		hits = append(hits, engine.Hit{Row: row, Distance: index.CosineDistance(vector, row.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortHits(hits)
	return hits, nil
}

func sortHits(hits []engine.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
}

// Delete removes matching rows and returns the number removed.
func (e *Engine) Delete(ctx context.Context, table string, pred *filter.Expr) (int64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if pred == nil {
		return 0, errors.New("sqliteengine: delete requires a predicate")
	}

	clause, args, err := pred.ToSQL(filter.SQLite, 0)
	if err != nil {
		return 0, fmt.Errorf("sqliteengine: bad predicate: %w", err)
	}

	// Collect ids first so the in-memory index can be kept in sync.
	idQuery := fmt.Sprintf("SELECT id FROM %s WHERE %s", physName(table), clause)
	rows, err := e.db.QueryContext(ctx, idQuery, args...)
	if err != nil {
		return 0, fmt.Errorf("sqliteengine: failed to find rows to delete: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	_ = rows.Close()
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := e.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s", physName(table), clause), args...)
	if err != nil {
		return 0, fmt.Errorf("sqliteengine: delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqliteengine: failed to count deleted rows: %w", err)
	}

	e.mu.RLock()
	idx := e.indexes[table]
	e.mu.RUnlock()
	if idx != nil {
		for _, id := range ids {
			_ = idx.Delete(id)
		}
	}
	return affected, nil
}

// UpdateLastAccessed stamps the given rows with an access time.
func (e *Engine) UpdateLastAccessed(ctx context.Context, table string, ids []string, at float64) error {
	if err := e.guard(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	// Chunked to stay under the SQLite parameter limit.
	const chunkSize = 500
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk)+1)
		args = append(args, at)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := fmt.Sprintf("UPDATE %s SET timestamp_last_accessed = ? WHERE id IN (%s)",
			physName(table), placeholders)
		if _, err := e.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("sqliteengine: failed to update last accessed: %w", err)
		}
	}
	return nil
}

// RowCount counts rows, optionally restricted by predicate.
func (e *Engine) RowCount(ctx context.Context, table string, pred *filter.Expr) (int64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}

	where, args, err := whereClause(pred)
	if err != nil {
		return 0, err
	}
	var count int64
	err = e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s%s", physName(table), where), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqliteengine: count failed: %w", err)
	}
	return count, nil
}

// BuildIndex builds a fresh IVF index from a snapshot of the table and
// swaps it in atomically. Reads and writes proceed against the previous
// index (or none) while the build runs.
func (e *Engine) BuildIndex(ctx context.Context, table string, params engine.IndexParams) error {
	if err := e.guard(); err != nil {
		return err
	}
	dim, err := e.dimension(ctx, table)
	if err != nil {
		return err
	}

	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, vector FROM %s", physName(table)))
	if err != nil {
		return fmt.Errorf("sqliteengine: failed to read vectors: %w", err)
	}
	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("sqliteengine: failed to read vectors: %w", err)
	}
	_ = rows.Close()

	if len(vectors) == 0 {
		return errors.New("sqliteengine: no vectors to index")
	}

	nlist := params.Partitions
	if nlist <= 0 {
		nlist = int(math.Sqrt(float64(len(vectors))))
	}
	nlist = max(2, min(nlist, 256))
	if nlist > len(vectors) {
		nlist = len(vectors)
	}

	idx := index.NewIVF(dim, nlist)
	if err := idx.Train(vectors); err != nil {
		return fmt.Errorf("sqliteengine: index training failed: %w", err)
	}
	for i, vec := range vectors {
		if err := idx.Add(ids[i], vec); err != nil {
			return fmt.Errorf("sqliteengine: index add failed: %w", err)
		}
	}

	e.mu.Lock()
	e.indexes[table] = idx
	e.mu.Unlock()
	return nil
}

// indexAdd keeps a live index in sync with single-row inserts.
func (e *Engine) indexAdd(table, id string, vector []float32) {
	e.mu.RLock()
	idx := e.indexes[table]
	e.mu.RUnlock()
	if idx != nil && idx.Trained() {
		_ = idx.Add(id, vector)
	}
}

// HasIndex reports whether a trained index is live for the table.
func (e *Engine) HasIndex(table string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx := e.indexes[table]
	return idx != nil && idx.Trained()
}

// Close closes the database handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

func whereClause(pred *filter.Expr) (string, []any, error) {
	if pred == nil {
		return "", nil, nil
	}
	clause, args, err := pred.ToSQL(filter.SQLite, 0)
	if err != nil {
		return "", nil, fmt.Errorf("sqliteengine: bad predicate: %w", err)
	}
	return " WHERE " + clause, args, nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (engine.Row, error) {
	var (
		row          engine.Row
		vectorBytes  []byte
		source       sql.NullString
		tagsJSON     sql.NullString
		metadataJSON sql.NullString
		lastAccessed sql.NullFloat64
	)
	err := s.Scan(
		&row.ID,
		&row.Content,
		&vectorBytes,
		&row.Type,
		&source,
		&row.Importance,
		&tagsJSON,
		&metadataJSON,
		&row.CreatedAt,
		&lastAccessed,
	)
	if err != nil {
		return engine.Row{}, err
	}

	row.Vector, err = encoding.DecodeVector(vectorBytes)
	if err != nil {
		return engine.Row{}, fmt.Errorf("failed to decode vector: %w", err)
	}
	row.Source = source.String
	if tagsJSON.Valid {
		row.Tags, err = encoding.DecodeTags(tagsJSON.String)
		if err != nil {
			return engine.Row{}, err
		}
	}
	if metadataJSON.Valid {
		row.Metadata, err = encoding.DecodeMetadata(metadataJSON.String)
		if err != nil {
			return engine.Row{}, err
		}
	}
	if lastAccessed.Valid {
		row.LastAccessedAt = lastAccessed.Float64
	}
	return row, nil
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
