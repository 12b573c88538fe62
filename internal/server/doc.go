// Package server hosts the Fiber HTTP service in front of the worker host:
// recovery, request and client identification middleware, and the catch-all
// route that hands page traffic to the proxy handler. Control endpoints under
// /-/ are registered by the routes subpackage on the same app.
package server
