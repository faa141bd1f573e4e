// Package registry is the durable directory of workers and namespaces.
//
// # Records
//
// A Record is either a worker or a namespace marker (IsNamespace=true).
// Markers keep empty namespaces visible; workers carry placement (local path
// and/or remote URL), advisory status, connections to colleagues, and the
// last task snapshot.
//
// Slug uniqueness is scoped to an owner and enforced at every mutation entry
// point (AddWorker), not left to callers.
//
// # Persistence
//
// Store keeps the whole registry in one JSON file:
//
//	store := registry.NewStore(path, logger)
//	reg, err := store.Load()
//
// Saves serialize to a temp file and atomically rename it into place under a
// store-wide mutex, with bounded retries on transient rename failures. A file
// that fails to parse is reset to an empty collection and the reset is only
// logged - availability over recovering recent writes.
//
// # Concurrent mutation
//
// Load followed by Save is not an atomic read-modify-write. Anything that
// mutates the registry goes through Update, which holds the store lock across
// the full cycle:
//
//	_, err := store.Update(func(reg registry.Registry) (registry.Registry, error) {
//	    return reg.AddWorker(rec)
//	})
package registry
