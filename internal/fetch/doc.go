// Package fetch provides the network capability injected into the offline
// worker: a shared http.Client with a bounded timeout and an HTTPFetcher that
// maps page-facing requests onto the configured origin.
package fetch
