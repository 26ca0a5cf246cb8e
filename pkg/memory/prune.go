package memory

import (
	"context"
	"time"

	"github.com/agentmem/agentmem/pkg/filter"
)

// Combine says how prune thresholds are joined.
type Combine string

const (
	// CombineAnd removes entries matching every supplied threshold.
	CombineAnd Combine = "AND"
	// CombineOr removes entries matching any supplied threshold.
	CombineOr Combine = "OR"
)

// PruneOptions selects entries for policy-driven removal. At least one
// threshold must be supplied; a call with none fails rather than wiping
// the collection.
type PruneOptions struct {
	// MaxAge removes entries older than this.
	MaxAge time.Duration

	// MinImportance removes entries with importance_score strictly below
	// this value. Pointer so an explicit 0 is expressible.
	MinImportance *float64

	// MaxIdle removes entries not returned by a query for this long.
	// Entries never accessed count as maximally idle.
	MaxIdle time.Duration

	// Combine joins the threshold clauses; default AND.
	Combine Combine

	// ExtraFilter is an additional predicate string ANDed with the
	// threshold clauses.
	ExtraFilter string

	// DryRun counts matching entries without deleting them.
	DryRun bool
}

// Prune bulk-removes entries by age, importance or idleness and returns
// the affected count. The delete is a single predicate-based operation:
// the returned count is exactly the rows removed.
func (c *Collection) Prune(ctx context.Context, opts PruneOptions) (int64, error) {
	const op = "prune"

	now := unixSeconds(c.now())

	var clauses []*filter.Expr
	if opts.MaxAge > 0 {
		cutoff := now - opts.MaxAge.Seconds()
		clauses = append(clauses, filter.Cmp("timestamp_created", filter.OpLt, cutoff))
	}
	if opts.MinImportance != nil {
		clauses = append(clauses, filter.Cmp("importance_score", filter.OpLt, *opts.MinImportance))
	}
	if opts.MaxIdle > 0 {
		cutoff := now - opts.MaxIdle.Seconds()
		// Never-accessed entries have no timestamp and are maximally
		// idle.
		clauses = append(clauses, filter.Or(
			filter.IsNull("timestamp_last_accessed"),
			filter.Cmp("timestamp_last_accessed", filter.OpLt, cutoff),
		))
	}
	if len(clauses) == 0 {
		return 0, wrapOp(op, c.name, &QueryError{Reason: "prune requires at least one of max age, min importance and max idle"})
	}

	var pred *filter.Expr
	switch opts.Combine {
	case CombineOr:
		pred = filter.Or(clauses...)
	case CombineAnd, "":
		pred = filter.And(clauses...)
	default:
		return 0, wrapOp(op, c.name, &QueryError{Reason: "combine must be AND or OR"})
	}

	if opts.ExtraFilter != "" {
		extra, err := c.parseFilter(opts.ExtraFilter)
		if err != nil {
			return 0, wrapOp(op, c.name, err)
		}
		pred = filter.And(pred, extra)
	}

	if opts.DryRun {
		n, err := c.eng.RowCount(ctx, c.name, pred)
		if err != nil {
			return 0, wrapOp(op, c.name, storageErr(err))
		}
		return n, nil
	}

	n, err := c.eng.Delete(ctx, c.name, pred)
	if err != nil {
		return 0, wrapOp(op, c.name, storageErr(err))
	}
	if n > 0 {
		c.logger.Info("pruned entries", "collection", c.name, "count", n)
	}
	return n, nil
}
