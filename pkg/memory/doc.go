// Package memory implements a collection engine for agent memories:
// named collections of entries with per-collection schema, embedding
// provider, index lifecycle and retention policy.
//
// A Store owns one table engine handle (SQLite by default, Postgres via
// pkg/engine/pgengine) and hands out Collections. Entries are added with
// or without vectors; content without a vector is embedded through the
// collection's provider. Queries combine vector similarity with a
// structured filter predicate and return results in ascending cosine
// distance order.
//
// Index builds run in the background and never block reads or writes;
// below the minimum row count every query is a linear scan, which is
// correct, just slower. The pruning engine bulk-removes entries by age,
// importance or idleness, with a dry-run mode for operational safety.
//
// Every collection operation is available in a blocking form and a
// Task-returning form (Collection.Async); both run the same code path.
package memory
