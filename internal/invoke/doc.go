// Package invoke hides whether a worker runs in-process or behind a webhook.
//
// # Routing
//
// The Router applies one policy: an existing local path wins, a remote URL is
// the fallback, and a worker with neither fails with ErrNoRoute:
//
//	router := &invoke.Router{Local: local, Remote: remote}
//	res, err := router.Invoke(ctx, rec, task)
//
// # Local workers
//
// Local workers implement the TaskHandler interface and are bound to their
// slug in a HandlerRegistry at registration time. A missing handler is a
// NoHandler result, not a crash. Calls are bounded by a per-call timeout and
// survive handler panics.
//
// # Remote workers
//
// Remote workers receive a POST to <url>/webhook carrying a synthetic
// inbound-message envelope (message id, sender, chat, date, task text). Any
// HTTP response counts as a completed invocation; its status and body are
// surfaced verbatim. Only transport failures produce an error Result.
//
// All failures of either kind land in Result.Err with OK=false; nothing in
// this package escalates a worker failure into a process failure.
package invoke
