package memory

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentmem/agentmem/pkg/engine"
)

// Entry is one stored memory record.
type Entry struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	// Vector is populated on reads only when the caller asked for it.
	Vector []float32 `json:"vector,omitempty"`

	Type       string         `json:"type"`
	Source     string         `json:"source,omitempty"`
	Importance float64        `json:"importance_score"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Unix seconds. LastAccessedAt is zero until the entry is returned
	// from a query on a collection that tracks access recency.
	CreatedAt      float64 `json:"timestamp_created"`
	LastAccessedAt float64 `json:"timestamp_last_accessed,omitempty"`
}

// ScoredEntry is a query result: an entry plus its distance from the
// query vector. Lower distance means more similar.
type ScoredEntry struct {
	Entry
	Distance float64 `json:"distance"`
}

// Fields is the caller-supplied shape of a new entry. Everything is
// optional except that Content or Vector must let the collection arrive
// at a vector; validation and defaulting happen in the schema manager.
type Fields struct {
	Content string
	Vector  []float32
	Type    string
	Source  string

	// Importance distinguishes "explicitly zero" from "unset": nil gets
	// the 0.5 default.
	Importance *float64

	Tags     []string
	Metadata map[string]any
}

// queryableFields are the top-level names a filter predicate may
// reference. Metadata keys hang off "metadata" via dotted paths.
var queryableFields = map[string]struct{}{
	"id":                      {},
	"content":                 {},
	"type":                    {},
	"source":                  {},
	"importance_score":        {},
	"tags":                    {},
	"metadata":                {},
	"timestamp_created":       {},
	"timestamp_last_accessed": {},
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a ULID. ULIDs sort by creation time, so id order doubles
// as insertion order for distance tie-breaks.
func newID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func entryFromRow(row engine.Row) Entry {
	return Entry{
		ID:             row.ID,
		Content:        row.Content,
		Vector:         row.Vector,
		Type:           row.Type,
		Source:         row.Source,
		Importance:     row.Importance,
		Tags:           row.Tags,
		Metadata:       row.Metadata,
		CreatedAt:      row.CreatedAt,
		LastAccessedAt: row.LastAccessedAt,
	}
}

func rowFromEntry(e Entry) engine.Row {
	return engine.Row{
		ID:             e.ID,
		Content:        e.Content,
		Vector:         e.Vector,
		Type:           e.Type,
		Source:         e.Source,
		Importance:     e.Importance,
		Tags:           e.Tags,
		Metadata:       e.Metadata,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
	}
}
