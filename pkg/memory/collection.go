package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmem/agentmem/pkg/embedding"
	"github.com/agentmem/agentmem/pkg/engine"
	"github.com/agentmem/agentmem/pkg/filter"
)

// Collection is a named group of memory entries sharing one schema, one
// embedding provider and one index lifecycle. Safe for concurrent use.
type Collection struct {
	name        string
	dim         int
	eng         engine.TableEngine
	provider    embedding.Provider
	schema      Schema
	logger      Logger
	trackAccess bool
	ctrl        *indexController

	now func() time.Time
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the collection's vector dimension.
func (c *Collection) Dimension() int { return c.dim }

// IndexState reports the current index lifecycle state.
func (c *Collection) IndexState() IndexState { return c.ctrl.State() }

// Async returns the collection's task-returning surface.
func (c *Collection) Async() *AsyncCollection { return &AsyncCollection{c: c} }

// Add validates, embeds if needed, and stores one entry, returning its
// assigned id.
func (c *Collection) Add(ctx context.Context, f Fields) (string, error) {
	ids, err := c.addAll(ctx, "add", []Fields{f})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddBatch stores entries in one engine transaction. The batch is
// all-or-nothing: one bad record fails the whole call and nothing is
// written.
func (c *Collection) AddBatch(ctx context.Context, fs []Fields) ([]string, error) {
	if len(fs) == 0 {
		return nil, nil
	}
	return c.addAll(ctx, "add_batch", fs)
}

func (c *Collection) addAll(ctx context.Context, op string, fs []Fields) ([]string, error) {
	entries := make([]Entry, len(fs))
	for i, f := range fs {
		entry, err := c.schema.Normalize(f, c.dim)
		if err != nil {
			return nil, wrapOp(op, c.name, err)
		}
		entries[i] = entry
	}

	// Embed the entries that arrived without a vector in one provider
	// call.
	var texts []string
	var needs []int
	for i := range entries {
		if len(entries[i].Vector) == 0 {
			texts = append(texts, entries[i].Content)
			needs = append(needs, i)
		}
	}
	if len(texts) > 0 {
		if c.provider == nil {
			return nil, wrapOp(op, c.name, &EmbeddingError{Reason: "no embedding provider configured and no vector supplied"})
		}
		vecs, err := c.provider.Embed(ctx, texts)
		if err != nil {
			return nil, wrapOp(op, c.name, &EmbeddingError{Reason: "provider failed", Err: err})
		}
		if len(vecs) != len(texts) {
			return nil, wrapOp(op, c.name, &EmbeddingError{
				Reason: fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), len(texts)),
			})
		}
		for j, i := range needs {
			if len(vecs[j]) != c.dim {
				return nil, wrapOp(op, c.name, &EmbeddingError{
					Reason: fmt.Sprintf("provider returned dimension %d, collection expects %d", len(vecs[j]), c.dim),
				})
			}
			entries[i].Vector = vecs[j]
		}
	}

	now := c.now()
	ids := make([]string, len(entries))
	rows := make([]engine.Row, len(entries))
	for i := range entries {
		entries[i].ID = newID(now)
		entries[i].CreatedAt = unixSeconds(now)
		ids[i] = entries[i].ID
		rows[i] = rowFromEntry(entries[i])
	}

	var err error
	if len(rows) == 1 {
		err = c.eng.Insert(ctx, c.name, rows[0])
	} else {
		err = c.eng.InsertBatch(ctx, c.name, rows)
	}
	if err != nil {
		return nil, wrapOp(op, c.name, storageErr(err))
	}

	// One build check per call, not per row.
	c.ctrl.NotifyWrites(int64(len(rows)))
	return ids, nil
}

// QueryOptions shapes a similarity query. Exactly one of Text and Vector
// must be set.
type QueryOptions struct {
	Text   string
	Vector []float32

	// K is the maximum number of results; must be >= 1.
	K int

	// Filter is a predicate string, e.g.
	// "importance_score > 0.5 AND metadata.topic = 'go'".
	Filter string

	// IncludeVectors returns each hit's vector; off by default since
	// vectors dominate payload size.
	IncludeVectors bool

	// SelectFields trims each result to the named fields. Empty means
	// all fields. The id is always kept.
	SelectFields []string
}

// Query returns the K nearest entries by ascending cosine distance, ties
// broken by insertion order. On collections that track access recency,
// every returned entry's last-accessed timestamp is set to the query
// time before the results are returned.
func (c *Collection) Query(ctx context.Context, opts QueryOptions) ([]ScoredEntry, error) {
	const op = "query"

	hasText := opts.Text != ""
	hasVector := len(opts.Vector) > 0
	if hasText == hasVector {
		return nil, wrapOp(op, c.name, &QueryError{Reason: "exactly one of query text and query vector must be supplied"})
	}
	if opts.K < 1 {
		return nil, wrapOp(op, c.name, &QueryError{Reason: fmt.Sprintf("k must be >= 1, got %d", opts.K)})
	}

	pred, err := c.parseFilter(opts.Filter)
	if err != nil {
		return nil, wrapOp(op, c.name, err)
	}

	vec := opts.Vector
	if hasText {
		if c.provider == nil {
			return nil, wrapOp(op, c.name, &EmbeddingError{Reason: "no embedding provider configured for text queries"})
		}
		vecs, err := c.provider.Embed(ctx, []string{opts.Text})
		if err != nil {
			return nil, wrapOp(op, c.name, &EmbeddingError{Reason: "provider failed", Err: err})
		}
		if len(vecs) != 1 || len(vecs[0]) != c.dim {
			return nil, wrapOp(op, c.name, &EmbeddingError{Reason: "provider returned a malformed query vector"})
		}
		vec = vecs[0]
	}
	if len(vec) != c.dim {
		return nil, wrapOp(op, c.name, &QueryError{
			Reason: fmt.Sprintf("query vector dimension %d does not match collection dimension %d", len(vec), c.dim),
		})
	}

	hits, err := c.eng.Search(ctx, c.name, vec, engine.SearchOptions{
		K:         opts.K,
		Predicate: pred,
		UseIndex:  c.ctrl.UseIndex(),
	})
	if err != nil {
		return nil, wrapOp(op, c.name, storageErr(err))
	}

	var accessedAt float64
	if c.trackAccess && len(hits) > 0 {
		accessedAt = unixSeconds(c.now())
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		if err := c.eng.UpdateLastAccessed(ctx, c.name, ids, accessedAt); err != nil {
			return nil, wrapOp(op, c.name, storageErr(err))
		}
	}

	results := make([]ScoredEntry, len(hits))
	for i, h := range hits {
		entry := entryFromRow(h.Row)
		if accessedAt > 0 {
			entry.LastAccessedAt = accessedAt
		}
		if !opts.IncludeVectors {
			entry.Vector = nil
		}
		if len(opts.SelectFields) > 0 {
			entry = projectEntry(entry, opts.SelectFields)
		}
		results[i] = ScoredEntry{Entry: entry, Distance: h.Distance}
	}
	return results, nil
}

// GetByID fetches one entry. A miss returns ErrNotFound.
func (c *Collection) GetByID(ctx context.Context, id string) (Entry, error) {
	const op = "get_by_id"

	row, found, err := c.eng.Get(ctx, c.name, id)
	if err != nil {
		return Entry{}, wrapOp(op, c.name, storageErr(err))
	}
	if !found {
		return Entry{}, wrapOp(op, c.name, fmt.Errorf("%w: entry %q", ErrNotFound, id))
	}
	entry := entryFromRow(row)
	if c.trackAccess {
		accessedAt := unixSeconds(c.now())
		if err := c.eng.UpdateLastAccessed(ctx, c.name, []string{id}, accessedAt); err != nil {
			return Entry{}, wrapOp(op, c.name, storageErr(err))
		}
		entry.LastAccessedAt = accessedAt
	}
	return entry, nil
}

// DeleteOptions selects entries to delete. Exactly one of ID and Filter
// must be set.
type DeleteOptions struct {
	ID     string
	Filter string
}

// Delete removes entries by id or by predicate and returns the number
// removed. Zero is a valid result when nothing matched.
func (c *Collection) Delete(ctx context.Context, opts DeleteOptions) (int64, error) {
	const op = "delete"

	hasID := opts.ID != ""
	hasFilter := opts.Filter != ""
	if hasID == hasFilter {
		return 0, wrapOp(op, c.name, &QueryError{Reason: "exactly one of id and filter must be supplied"})
	}

	var pred *filter.Expr
	if hasID {
		pred = filter.Cmp("id", filter.OpEq, opts.ID)
	} else {
		var err error
		pred, err = c.parseFilter(opts.Filter)
		if err != nil {
			return 0, wrapOp(op, c.name, err)
		}
	}

	n, err := c.eng.Delete(ctx, c.name, pred)
	if err != nil {
		return 0, wrapOp(op, c.name, storageErr(err))
	}
	return n, nil
}

// Count returns the number of entries, optionally restricted by a
// predicate.
func (c *Collection) Count(ctx context.Context, filterStr string) (int64, error) {
	const op = "count"

	pred, err := c.parseFilter(filterStr)
	if err != nil {
		return 0, wrapOp(op, c.name, err)
	}
	n, err := c.eng.RowCount(ctx, c.name, pred)
	if err != nil {
		return 0, wrapOp(op, c.name, storageErr(err))
	}
	return n, nil
}

// parseFilter turns a predicate string into a validated expression.
// Empty input means no predicate. Syntax errors and unknown fields both
// surface as QueryError.
func (c *Collection) parseFilter(s string) (*filter.Expr, error) {
	if s == "" {
		return nil, nil
	}
	expr, err := filter.Parse(s)
	if err != nil {
		return nil, &QueryError{Reason: "invalid filter predicate", Err: err}
	}
	if err := expr.Validate(queryableFields); err != nil {
		return nil, &QueryError{Reason: "invalid filter predicate", Err: err}
	}
	return expr, nil
}

// projectEntry keeps only the selected fields. The id always survives so
// results stay addressable.
func projectEntry(e Entry, fields []string) Entry {
	out := Entry{ID: e.ID}
	for _, f := range fields {
		switch f {
		case "id":
		case "content":
			out.Content = e.Content
		case "vector":
			out.Vector = e.Vector
		case "type":
			out.Type = e.Type
		case "source":
			out.Source = e.Source
		case "importance_score":
			out.Importance = e.Importance
		case "tags":
			out.Tags = e.Tags
		case "metadata":
			out.Metadata = e.Metadata
		case "timestamp_created":
			out.CreatedAt = e.CreatedAt
		case "timestamp_last_accessed":
			out.LastAccessedAt = e.LastAccessedAt
		}
	}
	return out
}
