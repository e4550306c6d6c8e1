// Package cache defines the versioned cache store registry: named stores that
// map a request key (GET + absolute URL) to an immutable response snapshot.
// Store names encode a (prefix, role, version) triple so the activation sweep
// can tell current stores from obsolete ones purely by name. Three backends
// share the Registry contract: an in-memory map, a directory-per-store disk
// layout (temp file + rename writes), and a single sqlite database. Strategies
// and the lifecycle manager only ever see the Registry interface.
package cache
