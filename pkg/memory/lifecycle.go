package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/agentmem/agentmem/pkg/engine"
)

// IndexState is the lifecycle state of a collection's similarity index.
type IndexState int

const (
	// NoIndex means no index exists; queries run as linear scans.
	NoIndex IndexState = iota
	// Building means a build is in flight; queries keep scanning.
	Building
	// Ready means the index reflects a recent snapshot of the rows.
	Ready
	// Stale means enough rows landed since the last build that a rebuild
	// is scheduled. The existing index stays usable meanwhile.
	Stale
)

func (s IndexState) String() string {
	switch s {
	case NoIndex:
		return "NoIndex"
	case Building:
		return "Building"
	case Ready:
		return "Ready"
	case Stale:
		return "Stale"
	default:
		return "Unknown"
	}
}

// DefaultMinIndexRows is the row count below which building an index is
// pointless: the partitioner needs at least this many points.
const DefaultMinIndexRows = 8

// DefaultStaleFraction is the drift threshold: rows added since the last
// build, as a fraction of the indexed row count, that marks the index
// Stale.
const DefaultStaleFraction = 0.25

// indexController decides when a collection's index is built or rebuilt.
// It is the single writer of index state: writes report row counts via
// NotifyWrites, and the controller's own goroutine is the only place a
// build ever runs, so no two builds can overlap for one collection.
type indexController struct {
	table  string
	eng    engine.TableEngine
	logger Logger

	minRows       int64
	staleFraction float64

	mu              sync.Mutex
	state           IndexState
	indexedRows     int64
	addedSinceBuild int64

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newIndexController(table string, eng engine.TableEngine, logger Logger, minRows int64, staleFraction float64) *indexController {
	if minRows <= 0 {
		minRows = DefaultMinIndexRows
	}
	if staleFraction <= 0 {
		staleFraction = DefaultStaleFraction
	}
	c := &indexController{
		table:         table,
		eng:           eng,
		logger:        logger.With("collection", table),
		minRows:       minRows,
		staleFraction: staleFraction,
		state:         NoIndex,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go c.run()
	return c
}

// State reports the current lifecycle state.
func (c *indexController) State() IndexState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UseIndex reports whether queries should ask the engine for
// index-assisted search. A Stale index has drifted but is still valid.
func (c *indexController) UseIndex() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Ready || c.state == Stale
}

// NotifyWrites records n new rows and schedules a build check. It never
// blocks: the write that triggered it completes regardless of what the
// controller decides.
func (c *indexController) NotifyWrites(n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.addedSinceBuild += n
	if c.state == Ready && float64(c.addedSinceBuild) > c.staleFraction*float64(c.indexedRows) {
		c.state = Stale
	}
	c.mu.Unlock()
	c.schedule()
}

// schedule requests a build check without blocking.
func (c *indexController) schedule() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Close stops the controller. An in-flight build finishes; no further
// builds are scheduled.
func (c *indexController) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

func (c *indexController) run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case <-c.kick:
			c.maybeBuild()
		}
	}
}

// maybeBuild checks the build rules and runs at most one build. Builds
// use a background context: they are maintenance, not subject to caller
// timeouts.
func (c *indexController) maybeBuild() {
	ctx := context.Background()

	rows, err := c.eng.RowCount(ctx, c.table, nil)
	if err != nil {
		c.logger.Warn("index build check failed", "error", err)
		return
	}

	c.mu.Lock()
	var build bool
	switch c.state {
	case NoIndex:
		build = rows >= c.minRows
	case Stale:
		build = true
	case Ready, Building:
	}
	if !build {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = Building
	c.mu.Unlock()

	job := uuid.NewString()
	c.logger.Info("index build started", "job", job, "rows", rows)

	if err := c.eng.BuildIndex(ctx, c.table, engine.IndexParams{}); err != nil {
		// Existing data and any prior index are untouched; retry on the
		// next qualifying write.
		c.logger.Error("index build failed", "job", job, "error", err)
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.state = Ready
	c.indexedRows = rows
	c.addedSinceBuild = 0
	c.mu.Unlock()
	c.logger.Info("index build finished", "job", job, "rows", rows)
}
