package memory

import "context"

// Task is an in-flight operation. The blocking API is the primary
// surface; tasks exist for callers that want to issue an operation and
// collect the result later. Both forms run the same code path, so
// results are identical for identical inputs.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the task completes or ctx is cancelled. Cancelling
// the wait does not cancel the underlying operation; it keeps running
// against the context it was started with.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, wrapOp("wait", "", ctx.Err())
	}
}

// Done reports completion without blocking.
func (t *Task[T]) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func run[T any](fn func() (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.val, t.err = fn()
	}()
	return t
}

// AsyncCollection is the task-returning surface of a Collection. Every
// operation mirrors its blocking counterpart exactly.
type AsyncCollection struct {
	c *Collection
}

// Collection returns the underlying blocking surface.
func (a *AsyncCollection) Collection() *Collection { return a.c }

func (a *AsyncCollection) Add(ctx context.Context, f Fields) *Task[string] {
	return run(func() (string, error) { return a.c.Add(ctx, f) })
}

func (a *AsyncCollection) AddBatch(ctx context.Context, fs []Fields) *Task[[]string] {
	return run(func() ([]string, error) { return a.c.AddBatch(ctx, fs) })
}

func (a *AsyncCollection) Query(ctx context.Context, opts QueryOptions) *Task[[]ScoredEntry] {
	return run(func() ([]ScoredEntry, error) { return a.c.Query(ctx, opts) })
}

func (a *AsyncCollection) GetByID(ctx context.Context, id string) *Task[Entry] {
	return run(func() (Entry, error) { return a.c.GetByID(ctx, id) })
}

func (a *AsyncCollection) Delete(ctx context.Context, opts DeleteOptions) *Task[int64] {
	return run(func() (int64, error) { return a.c.Delete(ctx, opts) })
}

func (a *AsyncCollection) Count(ctx context.Context, filterStr string) *Task[int64] {
	return run(func() (int64, error) { return a.c.Count(ctx, filterStr) })
}

func (a *AsyncCollection) Prune(ctx context.Context, opts PruneOptions) *Task[int64] {
	return run(func() (int64, error) { return a.c.Prune(ctx, opts) })
}
