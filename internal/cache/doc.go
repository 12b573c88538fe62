// Package cache implements the named cache namespaces the offline worker reads
// and writes. A Storage owns any number of versioned namespaces (for example
// property-predictor-static-v1.0.0); each Namespace maps a normalized request
// Key to a stored Response. Entries never expire on their own: whole namespaces
// are dropped when a newer worker version activates.
//
// Three backends share the same contract: an in-memory map for tests, a
// LevelDB database for the default persistent deployment, and a directory tree
// that writes one file per entry via temp file + rename. Every backend is safe
// for concurrent use and per-key writes are atomic (last write wins).
package cache
