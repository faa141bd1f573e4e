// Package dispatch coordinates task delivery to workers and namespaces.
//
// # Single dispatch
//
// DispatchOne resolves exactly one worker by owner and slug, routes the call
// through invoke.Router, persists the last-task snapshot on success, and
// returns the raw result. NotFound, AccessDenied, NoRoute, and registry write
// failures are the only hard errors.
//
// # Namespace dispatch
//
// DispatchNamespace (and the TeamThink/Brainstorm framings) resolves every
// worker of an owner's namespace, blends their context documents in registry
// order with first-seen-wins, and invokes all members concurrently under a
// bounded errgroup. Each member's pipeline - enrich, invoke, history append,
// context update - runs independently; a failure ends up in that member's
// result slot and never cancels siblings. The registry is persisted once
// after the batch.
//
// Per dispatch the flow is Resolving -> Invoking (N independent sub-flows
// for a namespace) -> Recording -> Done, with no retries at this layer.
//
// # Fleet maintenance
//
// The package also owns the mutation entry points around dispatch:
// RegisterWorker/DeleteWorker (delete removes the context document, history,
// and handler binding), CreateNamespace/DeleteNamespace, and Cleanup, which
// prunes workers whose local directory vanished without a remote fallback.
package dispatch
