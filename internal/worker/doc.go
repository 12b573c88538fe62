// Package worker implements the offline asset cache manager: the component
// that pre-caches static assets on install, purges stale cache namespaces on
// activate and answers intercepted GET requests cache-first with offline
// fallbacks.
//
// A Manager holds no host globals. Storage, network access and the host
// lifecycle (skip waiting, claim, notifications) are injected through Options,
// and every handler blocks until all work it started has settled, so callers
// can treat each call as the complete task for that event.
package worker
